// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

// PatchOp is one memory-bank write. Only append ops are ever applied; the
// file path is relative to the memory_bank root and allow-listed by the
// validator.
type PatchOp struct {
	Op       string   `json:"op" yaml:"op"`
	File     string   `json:"file" yaml:"file"`
	Content  string   `json:"content" yaml:"content"`
	Evidence Evidence `json:"evidence" yaml:"evidence"`
}

// PatchProposal groups the ops proposed for one chapter or outline. The
// proposal is persisted before validation so rejected ops remain auditable.
type PatchProposal struct {
	Ops []PatchOp `json:"ops" yaml:"ops"`
}
