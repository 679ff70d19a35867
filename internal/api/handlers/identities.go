package handlers

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/your-org/presence/internal/apperror"
	"github.com/your-org/presence/internal/models"
	"github.com/your-org/presence/internal/queue"
	"github.com/your-org/presence/internal/roster"
	"github.com/your-org/presence/internal/storage"
	"github.com/your-org/presence/internal/vision"
	"github.com/your-org/presence/pkg/dto"
)

const (
	maxEnrollImages    = 10
	maxEnrollImageSize = 10 << 20
)

type Roster interface {
	Add(ctx context.Context, ident models.Identity) (models.Identity, error)
	Snapshot() *roster.Snapshot
	Lookup(id int64) (models.Identity, bool)
}

type RosterNotifier interface {
	NotifyRosterChanged(change queue.RosterChange) error
}

type ImageStore interface {
	PutJPEG(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
}

type IdentityHandler struct {
	roster   Roster
	images   ImageStore
	notifier RosterNotifier
	// Vision is optional; enrollment from images answers 503 without it.
	Vision vision.Provider
}

func NewIdentityHandler(r Roster, images ImageStore, notifier RosterNotifier) *IdentityHandler {
	return &IdentityHandler{roster: r, images: images, notifier: notifier}
}

// Create registers an identity from a precomputed embedding.
func (h *IdentityHandler) Create(c *gin.Context) {
	var req dto.CreateIdentityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	ident := models.Identity{Name: req.Name, Embedding: req.Embedding}
	if req.ID != nil {
		if *req.ID <= 0 {
			badRequest(c, "identity id must be positive")
			return
		}
		ident.ID = *req.ID
	}

	saved, err := h.roster.Add(c.Request.Context(), ident)
	if err != nil {
		respondError(c, err)
		return
	}
	notifyRosterChange(h.notifier, "enrolled", saved.ID)

	c.JSON(http.StatusCreated, toIdentityResponse(saved))
}

// Enroll accepts one or more "image" files, embeds the best face of each and
// registers the averaged embedding.
func (h *IdentityHandler) Enroll(c *gin.Context) {
	if h.Vision == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "vision provider not configured", "code": apperror.CodeInternal})
		return
	}

	form, err := c.MultipartForm()
	if err != nil {
		badRequest(c, "multipart form required")
		return
	}
	files := form.File["image"]
	if len(files) == 0 {
		badRequest(c, "at least one image file required")
		return
	}
	if len(files) > maxEnrollImages {
		badRequest(c, fmt.Sprintf("at most %d images per enrollment", maxEnrollImages))
		return
	}

	ident := models.Identity{Name: c.PostForm("name")}
	if raw := c.PostForm("id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			badRequest(c, "invalid identity id")
			return
		}
		ident.ID = id
	}

	ctx := c.Request.Context()
	batch := uuid.New()
	samples := make([][]float32, 0, len(files))
	keys := make([]string, 0, len(files))

	for i, fh := range files {
		f, err := fh.Open()
		if err != nil {
			badRequest(c, "unreadable image "+fh.Filename)
			return
		}
		data, err := io.ReadAll(io.LimitReader(f, maxEnrollImageSize+1))
		f.Close()
		if err != nil || len(data) > maxEnrollImageSize {
			badRequest(c, "unreadable or oversized image "+fh.Filename)
			return
		}

		faces, err := h.Vision.DetectAndEncode(ctx, data)
		if err != nil {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "extract face from " + fh.Filename + ": " + err.Error(), "code": apperror.CodeValidation})
			return
		}
		best, err := vision.BestFace(faces)
		if err != nil {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "no face found in " + fh.Filename, "code": apperror.CodeValidation})
			return
		}
		samples = append(samples, best.Embedding)

		key := storage.EnrollmentKey(batch, i)
		if err := h.images.PutJPEG(ctx, key, data); err != nil {
			slog.Warn("store enrollment image", "key", key, "error", err)
			continue
		}
		keys = append(keys, key)
	}

	emb, err := vision.AverageEmbedding(samples)
	if err != nil {
		respondError(c, apperror.Validation("%s", err.Error()))
		return
	}
	ident.Embedding = emb

	saved, err := h.roster.Add(ctx, ident)
	if err != nil {
		respondError(c, err)
		return
	}
	notifyRosterChange(h.notifier, "enrolled", saved.ID)

	c.JSON(http.StatusCreated, dto.EnrollResponse{
		Identity:   toIdentityResponse(saved),
		Samples:    len(samples),
		SourceKeys: keys,
	})
}

func (h *IdentityHandler) List(c *gin.Context) {
	snap := h.roster.Snapshot()
	resp := make([]dto.IdentityResponse, 0, len(snap.Identities))
	for _, ident := range snap.Identities {
		resp = append(resp, toIdentityResponse(ident))
	}
	c.JSON(http.StatusOK, dto.IdentityListResponse{Identities: resp, Total: len(resp), Version: snap.Version})
}

func (h *IdentityHandler) Get(c *gin.Context) {
	id, ok := identityParam(c)
	if !ok {
		return
	}
	ident, found := h.roster.Lookup(id)
	if !found {
		respondError(c, apperror.NotFound(fmt.Sprintf("identity %d", id)))
		return
	}
	c.JSON(http.StatusOK, toIdentityResponse(ident))
}

// notifyRosterChange tells other processes to reload the roster and drop cached
// presence state.
func notifyRosterChange(n RosterNotifier, reason string, id int64) {
	if n == nil {
		return
	}
	change := queue.RosterChange{Reason: reason, IdentityID: id, At: time.Now().UTC()}
	if err := n.NotifyRosterChanged(change); err != nil {
		slog.Warn("notify roster change", "identity_id", id, "error", err)
	}
}
