package index

import (
	"context"
	"fmt"
	"log"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/scrypster/memlayer/internal/storage"
	"github.com/scrypster/memlayer/pkg/types"
)

// Evolution tunables. Thresholds were tuned against the stand-in embedder
// and are expected to move once a real encoder is attached.
const (
	EvolutionThreshold = 0.75
	LinkThreshold      = 0.65
	topSimilarCount    = 8
	topicOverlapBoost  = 0.05
)

const contextSummaryLen = 200

// EvolutionStore is the storage surface the evolver needs.
type EvolutionStore interface {
	storage.MemoryStore
	storage.AgenticStore
	storage.LinkStore
	storage.EmbeddingProvider
}

// Evolver maintains the agentic layer: it seeds records for new memories and
// merges metadata into similar existing ones.
type Evolver struct {
	store    EvolutionStore
	embedder Embedder
}

// NewEvolver creates an evolver over the store and embedder.
func NewEvolver(store EvolutionStore, embedder Embedder) *Evolver {
	return &Evolver{store: store, embedder: embedder}
}

// similarMemory pairs a candidate id with its similarity to the new memory.
type similarMemory struct {
	id         string
	similarity float64
}

// IngestMemory seeds the agentic record for a freshly persisted memory, then
// runs the evolution pass against its nearest neighbors. Failures inside the
// pass are logged, not surfaced: the memory itself is already durable.
func (e *Evolver) IngestMemory(ctx context.Context, mem *types.Memory, sourceApp types.SourceApp) error {
	now := time.Now().UTC()
	record := &types.AgenticRecord{
		MemoryID:     mem.ID,
		Keywords:     ExtractKeywords(mem.Text),
		Tags:         SyntheticTags(mem, sourceApp),
		Context:      summarize(mem.Text),
		Category:     types.CategoryForKind(mem.Kind),
		LastAccessed: now,
		CreatedAt:    now,
		Evolution: []types.EvolutionEntry{
			{Timestamp: now, Event: "ingested", Detail: string(sourceApp)},
		},
	}
	if err := e.store.UpsertAgentic(ctx, record); err != nil {
		return fmt.Errorf("index: seed agentic record: %w", err)
	}

	vec, err := e.embedder.Embed(ctx, mem.Text)
	if err != nil {
		return fmt.Errorf("index: embed memory: %w", err)
	}
	if err := e.store.StoreEmbedding(ctx, mem.ID, vec); err != nil {
		return fmt.Errorf("index: store embedding: %w", err)
	}

	similar, err := e.findSimilar(ctx, mem, vec)
	if err != nil {
		return fmt.Errorf("index: find similar: %w", err)
	}

	for _, cand := range similar {
		if cand.similarity >= EvolutionThreshold {
			if err := e.evolveCandidate(ctx, mem, record, cand.id); err != nil {
				log.Printf("index: evolution of %s skipped: %v", cand.id, err)
			}
		}
		if cand.similarity >= LinkThreshold && cand.similarity < 1.0 {
			if err := e.linkCandidates(ctx, mem.ID, record, cand); err != nil {
				log.Printf("index: linking %s skipped: %v", cand.id, err)
			}
		}
	}
	return nil
}

// findSimilar ranks all stored embeddings against vec by cosine similarity,
// boosted for candidates sharing the memory's topic, and keeps the top
// candidates. The boost applies before the cut so a same-topic neighbor can
// displace a barely closer off-topic one.
func (e *Evolver) findSimilar(ctx context.Context, mem *types.Memory, vec []float32) ([]similarMemory, error) {
	embeddings, err := e.store.AllEmbeddings(ctx, 0)
	if err != nil {
		return nil, err
	}

	candidates := make([]similarMemory, 0, len(embeddings))
	for _, emb := range embeddings {
		if emb.MemoryID == mem.ID {
			continue
		}
		similarity := CosineSimilarity(vec, emb.Embedding)
		if strings.EqualFold(emb.Topic, mem.Topic) {
			similarity = math.Min(similarity+topicOverlapBoost, 1.0)
		}
		candidates = append(candidates, similarMemory{
			id:         emb.MemoryID,
			similarity: similarity,
		})
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].similarity != candidates[j].similarity {
			return candidates[i].similarity > candidates[j].similarity
		}
		return candidates[i].id < candidates[j].id
	})
	if len(candidates) > topSimilarCount {
		candidates = candidates[:topSimilarCount]
	}
	return candidates, nil
}

// evolveCandidate merges the new memory's metadata into a similar existing
// record and logs the merge in its evolution history.
func (e *Evolver) evolveCandidate(ctx context.Context, mem *types.Memory, record *types.AgenticRecord, candidateID string) error {
	cand, err := e.store.GetAgentic(ctx, candidateID)
	if err != nil {
		return err
	}

	keywords := MergeKeywords(cand.Keywords, record.Keywords)
	tags := MergeKeywords(cand.Tags, record.Tags)

	category := cand.Category
	if cand.Category == types.CategoryFact && mem.Kind == types.KindDecision && e.sharesEntities(ctx, mem, candidateID) {
		category = types.CategoryDecision
	}

	if err := e.store.UpdateAgenticMeta(ctx, candidateID, keywords, tags, category); err != nil {
		return err
	}
	return e.store.AppendEvolution(ctx, candidateID, types.EvolutionEntry{
		Timestamp: time.Now().UTC(),
		Event:     "evolved",
		Detail:    "merged_with:" + mem.ID,
	})
}

// linkCandidates upserts the bidirectional link pair with a shared-keyword
// rationale when one exists.
func (e *Evolver) linkCandidates(ctx context.Context, newID string, record *types.AgenticRecord, cand similarMemory) error {
	rationale := fmt.Sprintf("semantic similarity: %.2f", cand.similarity)
	if other, err := e.store.GetAgentic(ctx, cand.id); err == nil {
		if shared := SharedKeywords(record.Keywords, other.Keywords); len(shared) > 0 {
			if len(shared) > 4 {
				shared = shared[:4]
			}
			rationale = "shared keywords: " + strings.Join(shared, ", ")
		}
	}

	forward := &types.Link{Source: newID, Target: cand.id, Strength: cand.similarity, Rationale: rationale}
	if err := e.store.UpsertLink(ctx, forward); err != nil {
		return err
	}
	backward := &types.Link{Source: cand.id, Target: newID, Strength: cand.similarity, Rationale: rationale}
	return e.store.UpsertLink(ctx, backward)
}

// sharesEntities reports whether the candidate memory names any of the new
// memory's entities.
func (e *Evolver) sharesEntities(ctx context.Context, mem *types.Memory, candidateID string) bool {
	other, err := e.store.GetMemory(ctx, candidateID)
	if err != nil {
		return false
	}
	names := map[string]bool{}
	for _, ent := range mem.Entities {
		names[strings.ToLower(ent)] = true
	}
	for _, ent := range other.Entities {
		if names[strings.ToLower(ent)] {
			return true
		}
	}
	return false
}

// SyntheticTags derives the tag set for a new agentic record.
func SyntheticTags(mem *types.Memory, sourceApp types.SourceApp) []string {
	tags := []string{
		"kind:" + string(mem.Kind),
		"topic:" + strings.ToLower(mem.Topic),
	}
	if sourceApp != "" {
		tags = append(tags, "app:"+strings.ToLower(string(sourceApp)))
	}
	return tags
}

// summarize truncates content to the context summary length.
func summarize(text string) string {
	if len(text) <= contextSummaryLen {
		return text
	}
	return text[:contextSummaryLen]
}
