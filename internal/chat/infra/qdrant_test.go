package infra

import (
	"context"
	"errors"
	"testing"

	"github.com/qdrant/go-client/qdrant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	appdomain "github.com/boddenberg/shopbot-core/internal/domain"
	"github.com/boddenberg/shopbot-core/internal/infra/observability"
)

type fakePoints struct {
	req    *qdrant.QueryPoints
	points []*qdrant.ScoredPoint
	err    error
}

func (f *fakePoints) Query(_ context.Context, req *qdrant.QueryPoints) ([]*qdrant.ScoredPoint, error) {
	f.req = req
	return f.points, f.err
}

func point(score float32, payload map[string]*qdrant.Value) *qdrant.ScoredPoint {
	return &qdrant.ScoredPoint{Score: score, Payload: payload}
}

func TestImageSearch_FiltersByTenantAndScore(t *testing.T) {
	fake := &fakePoints{points: []*qdrant.ScoredPoint{
		point(0.93, map[string]*qdrant.Value{
			"product_name":  qdrant.NewValueString("Sofa Milan"),
			"price":         qdrant.NewValueInt(12500000),
			"inventory":     qdrant.NewValueInt(3),
			"avatar_images": qdrant.NewValueFromList(qdrant.NewValueString("a.jpg"), qdrant.NewValueString("b.jpg")),
		}),
		point(0.5, map[string]*qdrant.Value{"product_name": qdrant.NewValueString("Low")}),
	}}
	s := &ImageSearch{client: fake, collection: "products", metrics: observability.NewMetrics(), logger: zap.NewNop()}

	got, err := s.SearchByImageEmbedding(context.Background(), "t1", []float32{0.1, 0.2}, 3, 0.85)

	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Sofa Milan", got[0].ProductName)
	assert.Equal(t, "12500000", string(got[0].Price))
	assert.Equal(t, "3", string(got[0].Inventory))
	assert.Equal(t, []string{"a.jpg", "b.jpg"}, got[0].AvatarImages)

	require.NotNil(t, fake.req)
	assert.Equal(t, "products", fake.req.CollectionName)
	assert.Equal(t, uint64(3), *fake.req.Limit)
	assert.InDelta(t, 0.85, *fake.req.ScoreThreshold, 1e-6)
	require.Len(t, fake.req.Filter.Must, 1)
	assert.Equal(t, "tenant_id", fake.req.Filter.Must[0].GetField().GetKey())
	assert.Equal(t, "t1", fake.req.Filter.Must[0].GetField().GetMatch().GetKeyword())
}

func TestImageSearch_EmptyInputSkipsQuery(t *testing.T) {
	fake := &fakePoints{}
	s := &ImageSearch{client: fake, metrics: observability.NewMetrics(), logger: zap.NewNop()}

	got, err := s.SearchByImageEmbedding(context.Background(), "", []float32{1}, 1, 0)
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = s.SearchByImageEmbedding(context.Background(), "t1", nil, 1, 0)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Nil(t, fake.req)
}

func TestImageSearch_ErrorIsExternal(t *testing.T) {
	fake := &fakePoints{err: errors.New("unavailable")}
	s := &ImageSearch{client: fake, metrics: observability.NewMetrics(), logger: zap.NewNop()}

	_, err := s.SearchByImageEmbedding(context.Background(), "t1", []float32{1}, 1, 0)

	var ext *appdomain.ErrExternalService
	require.True(t, errors.As(err, &ext))
	assert.Equal(t, "qdrant", ext.Service)
}

func TestPayloadStrings_SingleString(t *testing.T) {
	assert.Equal(t, []string{"x.jpg"}, payloadStrings(qdrant.NewValueString("x.jpg")))
	assert.Nil(t, payloadStrings(nil))
	assert.Equal(t, "", payloadString(qdrant.NewValueNull()))
}
