package search

// ScoredDocument accumulates per-channel scores for one document during
// fusion. Raw scores are the retrieval similarities; weighted scores are
// boost times raw. Ranks record each channel's retrieval order for
// deterministic tie-breaking.
type ScoredDocument struct {
	ObjectID string

	RawContentScore  float32
	RawPropertyScore float32
	ContentScore     float32
	PropertyScore    float32

	// Best matching chunk, when the content channel contributed.
	ChunkID    string
	ChunkIndex int
	ChunkText  string

	// Property text, when the property channel contributed.
	PropertyText string

	contentRank  int
	propertyRank int
}

const unranked = int(^uint(0) >> 1)

func newScoredDocument(objectID string) *ScoredDocument {
	return &ScoredDocument{
		ObjectID:     objectID,
		ChunkIndex:   -1,
		contentRank:  unranked,
		propertyRank: unranked,
	}
}

// setContent records a content channel hit at the given retrieval rank.
// Hits arrive in descending score order, so the first hit for a document
// is its best chunk; later chunks of the same document are ignored.
func (d *ScoredDocument) setContent(raw, boost float32, rank int, chunkID string, chunkIndex int, chunkText string) {
	if d.contentRank != unranked {
		return
	}
	d.RawContentScore = raw
	d.ContentScore = boost * raw
	d.contentRank = rank
	d.ChunkID = chunkID
	d.ChunkIndex = chunkIndex
	d.ChunkText = chunkText
}

// setProperty records a property channel hit at the given retrieval rank.
func (d *ScoredDocument) setProperty(raw, boost float32, rank int, propertyText string) {
	if d.propertyRank != unranked {
		return
	}
	d.RawPropertyScore = raw
	d.PropertyScore = boost * raw
	d.propertyRank = rank
	d.PropertyText = propertyText
}

// CombinedScore is the boosted sum used for ranking.
func (d *ScoredDocument) CombinedScore() float32 {
	return d.ContentScore + d.PropertyScore
}

// MaxRawScore is the strongest pre-boost signal from either channel. The
// minimum-score gate evaluates this value so boost changes never change
// which documents pass, only their order.
func (d *ScoredDocument) MaxRawScore() float32 {
	if d.RawContentScore > d.RawPropertyScore {
		return d.RawContentScore
	}
	return d.RawPropertyScore
}

// less orders documents by descending combined score, breaking ties by
// content retrieval order, then property retrieval order.
func (d *ScoredDocument) less(other *ScoredDocument) bool {
	if d.CombinedScore() != other.CombinedScore() {
		return d.CombinedScore() > other.CombinedScore()
	}
	if d.contentRank != other.contentRank {
		return d.contentRank < other.contentRank
	}
	return d.propertyRank < other.propertyRank
}
