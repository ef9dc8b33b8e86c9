package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInferContentType(t *testing.T) {
	tests := []struct {
		name string
		want ContentType
		ok   bool
	}{
		{"chr1.fasta", ContentFASTA, true},
		{"chr1.FA", ContentFASTA, true},
		{"calls.vcf", ContentVCF, true},
		{"genes.gff", ContentGFF, true},
		{"genes.gff3", ContentGFF, true},
		{"notes.txt", ContentUnknown, false},
		{"noext", ContentUnknown, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := InferContentType(tt.name)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.ok, ok)
		})
	}
}

func TestContentType_Ext(t *testing.T) {
	assert.Equal(t, ".fasta", ContentFASTA.Ext())
	assert.Equal(t, ".vcf", ContentVCF.Ext())
	assert.Equal(t, ".gff3", ContentGFF.Ext())
	assert.Equal(t, ".bin", ContentUnknown.Ext())
}
