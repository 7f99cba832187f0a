package ordr

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/jrjohn/ordr-go/internal/transport"
	apperrors "github.com/jrjohn/ordr-go/pkg/errors"
	"github.com/jrjohn/ordr-go/pkg/logger"
	"github.com/jrjohn/ordr-go/pkg/models"
)

const (
	pathCustomSkin  = "/ordr/skins/custom"
	pathSkins       = "/ordr/skins"
	pathRenders     = "/ordr/renders"
	pathServers     = "/servers"
	pathOnlineCount = "/servers/onlinecount"

	defaultPage     = 1
	defaultPageSize = 5

	defaultReplayFilename = "replay.osr"
)

// SkinsQuery selects a page of the skin listing. Page and PageSize default
// to 1 and 5.
type SkinsQuery struct {
	Page     int
	PageSize int
	Search   string
}

func (q SkinsQuery) values() url.Values {
	v := pageValues(q.Page, q.PageSize)
	if q.Search != "" {
		v.Set("search", q.Search)
	}
	return v
}

// RenderListQuery selects a page of the render listing. Zero-valued filters
// are not sent. Page and PageSize default to 1 and 5.
type RenderListQuery struct {
	Page           int
	PageSize       int
	OrdrUsername   string
	ReplayUsername string
	RenderID       int
	NoBots         bool
	Link           string
	BeatmapsetID   int
}

func (q RenderListQuery) values() url.Values {
	v := pageValues(q.Page, q.PageSize)
	if q.OrdrUsername != "" {
		v.Set("ordrUsername", q.OrdrUsername)
	}
	if q.ReplayUsername != "" {
		v.Set("replayUsername", q.ReplayUsername)
	}
	if q.RenderID != 0 {
		v.Set("renderID", strconv.Itoa(q.RenderID))
	}
	if q.NoBots {
		v.Set("nobots", "true")
	}
	if q.Link != "" {
		v.Set("link", q.Link)
	}
	if q.BeatmapsetID != 0 {
		v.Set("beatmapsetid", strconv.Itoa(q.BeatmapsetID))
	}
	return v
}

func pageValues(page, pageSize int) url.Values {
	if page <= 0 {
		page = defaultPage
	}
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	return url.Values{
		"page":     {strconv.Itoa(page)},
		"pageSize": {strconv.Itoa(pageSize)},
	}
}

// CreateRenderRequest describes a render to queue. One of ReplayFile or
// ReplayURL is required; when both are set only the file is sent.
type CreateRenderRequest struct {
	Username string
	// Skin is a skin name, or a custom skin id when CustomSkin is set.
	Skin       string
	CustomSkin bool

	ReplayFile     io.Reader
	ReplayFilename string
	ReplayURL      string

	// Options left nil render with the service defaults.
	Options *models.RenderOptions
}

func (r CreateRenderRequest) validate() error {
	if r.ReplayFile == nil && r.ReplayURL == "" {
		return apperrors.NewUsage("replay", "either a replay file or a replay URL must be provided")
	}
	if strings.TrimSpace(r.Username) == "" {
		return apperrors.NewUsage("username", "must not be empty")
	}
	if strings.TrimSpace(r.Skin) == "" {
		return apperrors.NewUsage("skin", "must not be empty")
	}
	if r.Options != nil {
		if err := r.Options.Validate(); err != nil {
			return apperrors.NewUsage("render options", err.Error())
		}
	}
	return nil
}

// GetSkin looks up a custom skin by id.
func (c *Client) GetSkin(ctx context.Context, id int) (*models.SkinCompact, error) {
	result, err := c.pipeline.Do(ctx, transport.Request{
		Method: http.MethodGet,
		Path:   pathCustomSkin,
		Query:  url.Values{"id": {strconv.Itoa(id)}},
	})
	if err != nil {
		return nil, err
	}

	var skin models.SkinCompact
	if err := result.Decode(&skin); err != nil {
		return nil, err
	}
	return &skin, nil
}

// GetSkins returns a page of the skin listing.
func (c *Client) GetSkins(ctx context.Context, q SkinsQuery) (*models.SkinsResponse, error) {
	result, err := c.pipeline.Do(ctx, transport.Request{
		Method: http.MethodGet,
		Path:   pathSkins,
		Query:  q.values(),
	})
	if err != nil {
		return nil, err
	}

	var resp models.SkinsResponse
	if err := result.Decode(&resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetRenderList returns a page of renders matching q.
func (c *Client) GetRenderList(ctx context.Context, q RenderListQuery) (*models.RendersResponse, error) {
	result, err := c.pipeline.Do(ctx, transport.Request{
		Method: http.MethodGet,
		Path:   pathRenders,
		Query:  q.values(),
	})
	if err != nil {
		return nil, err
	}

	var resp models.RendersResponse
	if err := result.Decode(&resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetServerList returns every registered render server.
func (c *Client) GetServerList(ctx context.Context) ([]models.RenderServer, error) {
	result, err := c.pipeline.Do(ctx, transport.Request{
		Method: http.MethodGet,
		Path:   pathServers,
	})
	if err != nil {
		return nil, err
	}

	var resp models.ServersResponse
	if err := result.Decode(&resp); err != nil {
		return nil, err
	}
	if resp.Servers == nil {
		return []models.RenderServer{}, nil
	}
	return resp.Servers, nil
}

// GetServerOnlineCount returns the number of render servers online. A body
// that is not an integer counts as zero.
func (c *Client) GetServerOnlineCount(ctx context.Context) (int, error) {
	result, err := c.pipeline.Do(ctx, transport.Request{
		Method:  http.MethodGet,
		Path:    pathOnlineCount,
		NoCache: true,
	})
	if err != nil {
		return 0, err
	}

	n, err := strconv.Atoi(strings.TrimSpace(result.Text()))
	if err != nil {
		c.logger.Debug("online count is not an integer", zap.String("body", result.Text()))
		return 0, nil
	}
	return n, nil
}

// CreateRender queues a render. Incomplete or invalid requests fail with a
// UsageError before anything is sent.
func (c *Client) CreateRender(ctx context.Context, r CreateRenderRequest) (*models.RenderCreateResponse, error) {
	if err := r.validate(); err != nil {
		return nil, err
	}

	form := url.Values{}
	if r.Options != nil {
		form = r.Options.Form()
	}
	form.Set("username", r.Username)
	form.Set("skin", r.Skin)
	if c.verificationKey != "" {
		form.Set("verificationKey", c.verificationKey)
	}
	if r.CustomSkin {
		form.Set("customSkin", "true")
	}

	req := transport.Request{
		Method: http.MethodPost,
		Path:   pathRenders,
		Form:   form,
	}
	if r.ReplayFile != nil {
		name := r.ReplayFilename
		if name == "" {
			name = defaultReplayFilename
		}
		req.File = &transport.FilePart{Field: "replayFile", Filename: name, Content: r.ReplayFile}
	} else {
		form.Set("replayURL", r.ReplayURL)
	}

	result, err := c.pipeline.Do(ctx, req)
	if err != nil {
		return nil, err
	}

	var resp models.RenderCreateResponse
	if err := result.Decode(&resp); err != nil {
		return nil, err
	}
	c.logger.Info("render queued", logger.RenderID(resp.RenderID), zap.String("username", r.Username))
	return &resp, nil
}
