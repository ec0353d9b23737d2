package upload

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testLimits = Limits{
	MaxSize:      10 * 1024 * 1024,
	AllowedTypes: []string{"image/jpeg", "image/png", "image/webp"},
}

func codes(vs []Violation) []ViolationCode {
	out := make([]ViolationCode, 0, len(vs))
	for _, v := range vs {
		out = append(out, v.Code)
	}
	return out
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		in   FileInput
		want []ViolationCode
	}{
		{"valid jpeg", FileInput{Present: true, MimeType: "image/jpeg", Size: 3, Data: []byte("abc")}, nil},
		{"mime case-insensitive", FileInput{Present: true, MimeType: "IMAGE/PNG", Size: 3, Data: []byte("abc")}, nil},
		{"missing", FileInput{}, []ViolationCode{MissingFile}},
		{"gif", FileInput{Present: true, MimeType: "image/gif", Size: 3, Data: []byte("abc")}, []ViolationCode{InvalidType}},
		{"too large by declared size", FileInput{Present: true, MimeType: "image/png", Size: testLimits.MaxSize + 1, Data: []byte("abc")}, []ViolationCode{TooLarge}},
		{"empty", FileInput{Present: true, MimeType: "image/png"}, []ViolationCode{EmptyFile}},
		{"all at once", FileInput{Present: true, MimeType: "text/plain", Size: testLimits.MaxSize + 1}, []ViolationCode{InvalidType, TooLarge, EmptyFile}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Validate(tt.in, testLimits)
			if tt.want == nil {
				assert.Empty(t, got)
				return
			}
			assert.Equal(t, tt.want, codes(got))
		})
	}
}

func TestValidateMixedCaseAllowList(t *testing.T) {
	lim := Limits{MaxSize: 1024, AllowedTypes: []string{"image/JPEG", "Image/Png"}}
	in := FileInput{Present: true, MimeType: "image/jpeg", Size: 3, Data: []byte("abc")}
	assert.Empty(t, Validate(in, lim))

	in.MimeType = "IMAGE/PNG"
	assert.Empty(t, Validate(in, lim))
}

func TestValidateMessages(t *testing.T) {
	vs := Validate(FileInput{Present: true, MimeType: "image/gif", Size: 20 * 1024 * 1024, Data: []byte("x")}, testLimits)
	require.Len(t, vs, 2)
	assert.Contains(t, vs[0].Message, "Invalid file type")
	assert.Contains(t, vs[0].Message, "image/jpeg, image/png, image/webp")
	assert.Equal(t, "File too large. Maximum size is 10MB", vs[1].Message)

	err := &ValidationError{Violations: vs}
	assert.Equal(t, vs[0].Message, err.Error())
	assert.Equal(t, InvalidType, err.First().Code)
}

func TestHumanSize(t *testing.T) {
	assert.Equal(t, "10MB", HumanSize(10*1024*1024))
	assert.Equal(t, "1.5MB", HumanSize(1536*1024))
	assert.Equal(t, "512 bytes", HumanSize(512))
}
