package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/design2code/internal/figma"
	"github.com/jonathan/design2code/internal/rendering"
	"github.com/jonathan/design2code/internal/types"
)

type stubImages struct {
	img   *types.NodeImage
	err   error
	calls int
	token string
}

func (s *stubImages) FetchNodeImage(_ context.Context, _ uuid.UUID, _, _, token string) (*types.NodeImage, error) {
	s.calls++
	s.token = token
	return s.img, s.err
}

func testProject() types.Project {
	return types.Project{
		ID:        uuid.New(),
		OwnerID:   uuid.New(),
		Name:      "Landing",
		SourceURL: "https://www.figma.com/design/KEY/Landing?node-id=1-2",
		FileKey:   "KEY",
		NodeID:    "1:2",
	}
}

func decodeReport(t *testing.T, a *types.Artifacts) Report {
	t.Helper()
	var r Report
	require.NoError(t, json.Unmarshal(a.Report, &r))
	return r
}

func TestMock_Generate(t *testing.T) {
	var events []ProgressEvent
	p := testProject()

	a, err := NewMock().Generate(context.Background(), Input{
		Project:    p,
		Note:       "upgrading in background",
		OnProgress: func(e ProgressEvent) { events = append(events, e) },
	})
	require.NoError(t, err)

	assert.Equal(t, figma.SnapshotHash("KEY", "1:2", "", p.SourceURL), a.SnapshotHash)
	assert.Len(t, a.Files, 6)
	require.Len(t, a.Mappings, 1)
	assert.Equal(t, types.MappingKindComponent, a.Mappings[0].Kind)
	assert.Equal(t, rendering.PagePath, a.Mappings[0].TargetPath)
	assert.Equal(t, "1:2", a.Mappings[0].NodeID)

	r := decodeReport(t, a)
	assert.Equal(t, NameMock, r.Pipeline)
	require.NotNil(t, r.Fallback)
	assert.Equal(t, ReasonProvisional, r.Fallback.Reason)

	var ir IR
	require.NoError(t, json.Unmarshal(a.IR, &ir))
	assert.Equal(t, NameMock, ir.Source.Tool)
	assert.NotEmpty(t, events)
}

func TestMock_FallbackReason(t *testing.T) {
	a, err := NewMock().Generate(context.Background(), Input{Project: testProject(), FallbackReason: ReasonEphemeral})
	require.NoError(t, err)
	assert.Equal(t, ReasonEphemeral, decodeReport(t, a).Fallback.Reason)
}

func TestMock_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewMock().Generate(ctx, Input{Project: testProject()})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFigma_Generate(t *testing.T) {
	images := &stubImages{img: &types.NodeImage{
		PNGBase64:      "iVBORw0KGgo=",
		SourceImageURL: "https://cdn.example.com/render.png",
		FetchedAt:      time.Now(),
	}}

	a, err := NewFigma(images).Generate(context.Background(), Input{Project: testProject(), Token: "figd_token"})
	require.NoError(t, err)
	assert.Equal(t, 1, images.calls)
	assert.Equal(t, "figd_token", images.token)

	assert.Len(t, a.Files, 7)
	require.Len(t, a.Mappings, 2)
	assert.Equal(t, types.MappingKindAsset, a.Mappings[1].Kind)
	assert.Equal(t, rendering.ImagePath, a.Mappings[1].TargetPath)

	r := decodeReport(t, a)
	assert.Equal(t, NameFigma, r.Pipeline)
	assert.Nil(t, r.Fallback)
	assert.NotNil(t, r.Warnings)
}

func TestFigma_MissingToken(t *testing.T) {
	images := &stubImages{}
	_, err := NewFigma(images).Generate(context.Background(), Input{Project: testProject()})
	assert.ErrorIs(t, err, ErrMissingToken)
	assert.Zero(t, images.calls)
}

func TestFigma_RateLimitPassesThrough(t *testing.T) {
	images := &stubImages{err: &figma.RateLimitError{Label: "images", Status: 429, RetryAfterSec: 45}}
	_, err := NewFigma(images).Generate(context.Background(), Input{Project: testProject(), Token: "t"})

	var rl *figma.RateLimitError
	require.True(t, errors.As(err, &rl))
	assert.Equal(t, 45, rl.RetryAfterSec)
}

func TestFigma_NoImage(t *testing.T) {
	_, err := NewFigma(&stubImages{}).Generate(context.Background(), Input{Project: testProject(), Token: "t"})
	var ni *NoImageError
	require.True(t, errors.As(err, &ni))
	assert.Equal(t, "1:2", ni.NodeID)
}

func TestNeedsCredential(t *testing.T) {
	assert.True(t, NeedsCredential(testProject()))
	assert.False(t, NeedsCredential(types.Project{SourceURL: "https://example.com/design.png"}))
}
