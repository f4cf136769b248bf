package validation_test

import (
	"strings"
	"testing"

	"duocall/pkg/validation"

	"github.com/stretchr/testify/assert"
)

func TestValidateIdentity(t *testing.T) {
	assert.NoError(t, validation.ValidateIdentity("alice@example.com"))
	assert.NoError(t, validation.ValidateIdentity("  alice  "))
	assert.Error(t, validation.ValidateIdentity(""))
	assert.Error(t, validation.ValidateIdentity("   "))
	assert.Error(t, validation.ValidateIdentity(strings.Repeat("a", 255)))
}

func TestValidateRoomID(t *testing.T) {
	assert.NoError(t, validation.ValidateRoomID("daily-standup_42"))
	assert.Error(t, validation.ValidateRoomID(""))
	assert.Error(t, validation.ValidateRoomID("has spaces"))
	assert.Error(t, validation.ValidateRoomID("emoji🙂"))
	assert.Error(t, validation.ValidateRoomID(strings.Repeat("r", 101)))
}

func TestValidateSDP(t *testing.T) {
	valid := "v=0\r\no=- 0 0 IN IP4 127.0.0.1\r\ns=-\r\nt=0 0\r\n"
	assert.NoError(t, validation.ValidateSDP(valid))

	assert.Error(t, validation.ValidateSDP(""))
	assert.Error(t, validation.ValidateSDP("o=first line wrong"))
	assert.Error(t, validation.ValidateSDP("v=0\r\ns=-\r\n"))
}
