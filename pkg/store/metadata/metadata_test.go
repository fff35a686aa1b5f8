package metadata

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoleSet(t *testing.T) {
	s := NewRoleSet(RoleUpdate)
	assert.True(t, s.Has(RoleUpdate))
	assert.False(t, s.Has(RoleDelete))
	assert.False(t, s.Empty())
	assert.True(t, RoleSet(0).Empty())
	assert.Equal(t, "{create,read,update,delete}", AllRoles.String())
}

func TestRoleSetJSON(t *testing.T) {
	data, err := json.Marshal(NewRoleSet(RoleDelete, RoleRead))
	require.NoError(t, err)
	assert.JSONEq(t, `["read","delete"]`, string(data))

	var s RoleSet
	require.NoError(t, json.Unmarshal([]byte(`["CREATE","update"]`), &s))
	assert.Equal(t, NewRoleSet(RoleCreate, RoleUpdate), s)

	assert.Error(t, json.Unmarshal([]byte(`["admin"]`), &s))
}

func TestValidateName(t *testing.T) {
	tests := []struct {
		name  string
		input string
		ok    bool
	}{
		{"simple", "report.pdf", true},
		{"unicode", "видео.mp4", true},
		{"max length", strings.Repeat("a", MaxNameLength), true},
		{"multibyte at max", strings.Repeat("é", MaxNameLength), true},
		{"empty", "", false},
		{"too long", strings.Repeat("a", MaxNameLength+1), false},
		{"slash", "a/b", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateName(tt.input)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestValidateResolution(t *testing.T) {
	for _, tag := range []string{"720p", "4K", "hd_1080", "low-bitrate"} {
		assert.NoError(t, ValidateResolution(tag), tag)
	}
	for _, tag := range []string{"", "720 p", "../x", "720p?", strings.Repeat("a", MaxResolutionLength+1)} {
		assert.Error(t, ValidateResolution(tag), tag)
	}
}

func TestCheckMove(t *testing.T) {
	tree := map[string]*File{
		"a":   {Key: "a", Type: FileTypeFolder},
		"b":   {Key: "b", Type: FileTypeFolder, ParentKey: "a"},
		"c":   {Key: "c", Type: FileTypeFolder, ParentKey: "b"},
		"doc": {Key: "doc", Type: FileTypeDocument, ParentKey: "a", BlobRef: "blobs/d"},
	}
	lookup := func(key string) (*File, error) {
		f, ok := tree[key]
		if !ok {
			return nil, NewNotFoundError(key, "file")
		}
		return f, nil
	}

	assert.NoError(t, CheckMove("c", "a", lookup))
	assert.NoError(t, CheckMove("doc", "c", lookup))
	assert.NoError(t, CheckMove("b", "", lookup))

	for _, tc := range [][2]string{{"a", "a"}, {"a", "c"}, {"b", "c"}, {"c", "doc"}} {
		err := CheckMove(tc[0], tc[1], lookup)
		var se *StoreError
		require.ErrorAs(t, err, &se, "%s -> %s", tc[0], tc[1])
		assert.Equal(t, ErrInvalidArgument, se.Code)
	}

	assert.True(t, IsNotFound(CheckMove("a", "missing", lookup)))
}

func TestStoreErrorMessage(t *testing.T) {
	err := NewNotFoundError("k1", "file")
	assert.Equal(t, "file not found: k1", err.Error())
	assert.True(t, IsNotFound(err))
	assert.False(t, IsAlreadyExists(err))
}
