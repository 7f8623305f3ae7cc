package cluster

// ShareRecord is a node's persisted fragment of one distributed secret plus
// the metadata needed to combine fragments. IDNumbers holds one entry per
// current holder and is identical across all holders whenever the secret is
// not mid-move.
type ShareRecord struct {
	Author      NodeID                     `json:"author"`
	Threshold   int                        `json:"threshold"`
	IDNumbers   map[NodeID]EvaluationPoint `json:"id_numbers"`
	Commitments []string                   `json:"commitments"`
	SecretShare string                     `json:"secret_share"`

	CommonPoint    string `json:"common_point,omitempty"`
	EncryptedPoint string `json:"encrypted_point,omitempty"`
}

// Clone returns a deep copy of the record.
func (r *ShareRecord) Clone() *ShareRecord {
	if r == nil {
		return nil
	}
	c := *r
	c.IDNumbers = make(map[NodeID]EvaluationPoint, len(r.IDNumbers))
	for n, p := range r.IDNumbers {
		c.IDNumbers[n] = p
	}
	c.Commitments = append([]string(nil), r.Commitments...)
	return &c
}

// Holders returns the current holder set in ascending order.
func (r *ShareRecord) Holders() []NodeID {
	return SortedNodes(r.IDNumbers)
}
