package engine

// ForwardBatch is a finalized SubBatch: the read-only descriptor handed to the
// compute kernels. Requests appear in AllReqs, SeqIDs and SeqLens in the fixed
// order CPU-prefill, GPU-prefill, GPU-decode, CPU-decode, so
//
//	AllReqs[:NumCprfs]         CPU-prefill
//	AllReqs[NumCprfs:NumPrefs] GPU-prefill
//	AllReqs[NumPrefs:NumPrgds] GPU-decode
//	AllReqs[NumPrgds:]         CPU-decode
type ForwardBatch struct {
	BatchSize int `yaml:"batch_size"` // post-layer
	IterWidth int `yaml:"iter_width"` // post-layer

	NumCprfs int `yaml:"num_cprfs"`
	NumGprfs int `yaml:"num_gprfs"`
	NumGdecs int `yaml:"num_gdecs"`
	NumCdecs int `yaml:"num_cdecs"`
	NumPrefs int `yaml:"num_prefs"` // NumCprfs + NumGprfs
	NumPrgds int `yaml:"num_prgds"` // NumPrefs + NumGdecs

	AllReqs []*Request `yaml:"-"`
	SeqIDs  []int      `yaml:"seq_ids,flow"`
	SeqLens []int      `yaml:"seq_lens,flow"`

	SumPrefToks int `yaml:"sum_pref_toks"` // store-pref-KV, pref, gdec
	SumPrgdToks int `yaml:"sum_prgd_toks"` // gdec
	MaxPrefToks int `yaml:"max_pref_toks"` // store-pref-KV, pref

	// Paged attention over the GPU-decode segment.
	SeqBlockSize int `yaml:"seq_block_size"`
	NumSeqBlocks int `yaml:"num_seq_blocks"`
}

// InputTokens returns the forward-pass input token ids in batch order.
func (fb *ForwardBatch) InputTokens() []int {
	return GetInputTokens(fb.AllReqs)
}

// Requests returns the requests of one category.
func (fb *ForwardBatch) Requests(c Category) []*Request {
	switch c {
	case CategoryCPUPrefill:
		return fb.AllReqs[:fb.NumCprfs]
	case CategoryGPUPrefill:
		return fb.AllReqs[fb.NumCprfs:fb.NumPrefs]
	case CategoryGPUDecode:
		return fb.AllReqs[fb.NumPrefs:fb.NumPrgds]
	case CategoryCPUDecode:
		return fb.AllReqs[fb.NumPrgds:]
	}
	return nil
}
