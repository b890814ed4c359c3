package mailbox

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testVCF = "BEGIN:VCARD\r\n" +
	"VERSION:4.0\r\n" +
	"FN:School Office\r\n" +
	"EMAIL:office@school.example\r\n" +
	"EMAIL;TYPE=work:Admin@School.Example\r\n" +
	"END:VCARD\r\n" +
	"BEGIN:VCARD\r\n" +
	"VERSION:4.0\r\n" +
	"FN:Class Teacher\r\n" +
	"EMAIL:teacher@school.example\r\n" +
	"END:VCARD\r\n"

func writeVCF(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "contacts.vcf")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadContacts(t *testing.T) {
	c, err := LoadContacts(writeVCF(t, testVCF))
	require.NoError(t, err)

	assert.Equal(t, 3, c.Len())
	assert.True(t, c.Has("office@school.example"))
	assert.True(t, c.Has("admin@school.example"))
	assert.True(t, c.Has("Teacher@School.Example"))
	assert.False(t, c.Has("stranger@school.example"))
}

func TestLoadContactsNoEmails(t *testing.T) {
	vcf := "BEGIN:VCARD\r\nVERSION:4.0\r\nFN:No Mail\r\nEND:VCARD\r\n"
	_, err := LoadContacts(writeVCF(t, vcf))
	assert.Error(t, err)
}

func TestLoadContactsMissingFile(t *testing.T) {
	_, err := LoadContacts(filepath.Join(t.TempDir(), "nope.vcf"))
	assert.Error(t, err)
}
