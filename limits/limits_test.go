package limits

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidatePacketSize(t *testing.T) {
	tests := []struct {
		name    string
		size    int
		max     int
		wantErr error
	}{
		{"empty", 0, 10, ErrPacketEmpty},
		{"at limit", 10, 10, nil},
		{"over limit", 11, 10, ErrPacketTooLarge},
		{"small", 1, 10, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePacketSize(make([]byte, tt.size), tt.max)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
		})
	}
}

func TestValidateSAPPacket(t *testing.T) {
	assert.ErrorIs(t, ValidateSAPPacket(nil), ErrPacketEmpty)
	assert.NoError(t, ValidateSAPPacket(make([]byte, MaxSAPPacket)))

	err := ValidateSAPPacket(make([]byte, MaxSAPPacket+1))
	assert.ErrorIs(t, err, ErrPacketTooLarge)
	assert.Contains(t, err.Error(), "1025")
}

func TestValidateRTPPayload(t *testing.T) {
	assert.ErrorIs(t, ValidateRTPPayload([]byte{}), ErrPacketEmpty)
	assert.NoError(t, ValidateRTPPayload(make([]byte, 288)))
	assert.ErrorIs(t, ValidateRTPPayload(make([]byte, MaxRTPPayload+1)), ErrPacketTooLarge)
}

func TestHeaderSizesFitDatagram(t *testing.T) {
	assert.Less(t, RTPHeaderSize+MaxRTPPayload, MaxDatagram)
	assert.Less(t, MaxSAPPacket, MaxDatagram)
}
