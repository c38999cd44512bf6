package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"

	"github.com/kbstack/kb-ingest/internal/models"
	"github.com/kbstack/kb-ingest/pkg/logger"
)

// Vector wraps the Qdrant collection holding chunk embeddings.
type Vector struct {
	client *qdrant.Client
	log    logger.Logger
}

func NewVector(host string, port int, log logger.Logger) (*Vector, error) {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host: host,
		Port: port,
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant client: %w", err)
	}
	return &Vector{client: client, log: log}, nil
}

// EnsureCollection creates the collection with the embedder's dimension
// and cosine distance. An existing collection with a different
// dimension is a fatal configuration error: the model and the
// collection must agree before any document is processed.
func (v *Vector) EnsureCollection(ctx context.Context, name string, dimension int) error {
	exists, err := v.client.CollectionExists(ctx, name)
	if err != nil {
		return fmt.Errorf("check collection %s: %w", name, err)
	}

	if !exists {
		err := v.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: name,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     uint64(dimension),
				Distance: qdrant.Distance_Cosine,
			}),
		})
		if err != nil {
			return fmt.Errorf("create collection %s: %w", name, err)
		}
		v.log.Info("vector collection created",
			logger.String("collection", name),
			logger.Int("dimension", dimension),
		)
		return nil
	}

	info, err := v.client.GetCollectionInfo(ctx, name)
	if err != nil {
		return fmt.Errorf("inspect collection %s: %w", name, err)
	}
	params := info.GetConfig().GetParams().GetVectorsConfig().GetParams()
	if params != nil && params.GetSize() != uint64(dimension) {
		return fmt.Errorf("collection %s has dimension %d, model needs %d",
			name, params.GetSize(), dimension)
	}
	return nil
}

// UpsertChunks writes one document's chunk vectors. Point ids derive
// from (document id, chunk index), so re-ingestion overwrites the same
// points instead of duplicating them.
func (v *Vector) UpsertChunks(ctx context.Context, collection string, doc *models.Document, chunks []models.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	points := make([]*qdrant.PointStruct, 0, len(chunks))
	for _, chunk := range chunks {
		payload := map[string]any{
			"doc_id":   chunk.DocID,
			"chunk_id": chunk.Index,
			"text":     chunk.Text,
			"title":    doc.Title,
			"path":     doc.Path,
		}
		for k, val := range doc.Facets.Map() {
			payload[k] = val
		}

		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewID(PointID(chunk.DocID, chunk.Index)),
			Vectors: qdrant.NewVectors(chunk.Vector...),
			Payload: qdrant.NewValueMap(payload),
		})
	}

	_, err := v.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: collection,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("upsert %d points for %s: %w", len(points), doc.ID, err)
	}
	return nil
}

// DeleteDocument removes every point belonging to one document. Used
// only by the prune pass.
func (v *Vector) DeleteDocument(ctx context.Context, collection, docID string) error {
	_, err := v.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: collection,
		Points: qdrant.NewPointsSelectorFilter(&qdrant.Filter{
			Must: []*qdrant.Condition{
				qdrant.NewMatch("doc_id", docID),
			},
		}),
	})
	if err != nil {
		return fmt.Errorf("delete points for %s: %w", docID, err)
	}
	return nil
}

func (v *Vector) Close() error {
	return v.client.Close()
}

// PointID returns the deterministic UUID for one (document, chunk)
// pair: the same pair always maps to the same vector-store point.
func PointID(docID string, chunkIdx int) string {
	return uuid.NewSHA1(uuid.NameSpaceDNS,
		[]byte(fmt.Sprintf("%s_chunk_%d", docID, chunkIdx))).String()
}
