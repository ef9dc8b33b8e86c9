package vault

import (
	"bufio"
	"bytes"
	"fmt"

	"github.com/dmitrijs2005/genevault/internal/common"
	"github.com/dmitrijs2005/genevault/internal/server/models"
)

const (
	fastaWindow = 4096
	textWindow  = 8192
	gffColumns  = 9
)

// sniffWindow is how many leading plaintext bytes Store buffers for Sniff.
const sniffWindow = textWindow

// Sniff performs a cheap structural check that head, the leading bytes of a
// file, plausibly belongs to content type t. ContentUnknown is never checked.
func Sniff(t models.ContentType, head []byte) error {
	var ok bool
	switch t {
	case models.ContentUnknown:
		return nil
	case models.ContentFASTA:
		ok = looksLikeFASTA(head)
	case models.ContentVCF:
		ok = looksLikeVCF(head)
	case models.ContentGFF:
		ok = looksLikeGFF(head)
	default:
		return fmt.Errorf("%w: unsupported content type %q", common.ErrValidationFailed, t)
	}
	if !ok {
		return fmt.Errorf("%w: content does not look like %s", common.ErrValidationFailed, t)
	}
	return nil
}

func window(b []byte, n int) []byte {
	if len(b) > n {
		return b[:n]
	}
	return b
}

func looksLikeFASTA(head []byte) bool {
	return bytes.HasPrefix(bytes.TrimSpace(window(head, fastaWindow)), []byte(">"))
}

func looksLikeVCF(head []byte) bool {
	h := window(head, textWindow)
	return bytes.Contains(h, []byte("#CHROM")) || bytes.Contains(h, []byte("##fileformat="))
}

func looksLikeGFF(head []byte) bool {
	h := window(head, textWindow)
	if bytes.Contains(h, []byte("##gff-version")) {
		return true
	}
	sc := bufio.NewScanner(bytes.NewReader(h))
	sc.Buffer(make([]byte, 0, len(h)+1), len(h)+1)
	for sc.Scan() {
		if bytes.Count(sc.Bytes(), []byte("\t"))+1 >= gffColumns {
			return true
		}
	}
	return false
}
