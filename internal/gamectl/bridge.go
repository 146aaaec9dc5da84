package gamectl

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// DefaultBridgeURL is where a locally running bridge daemon listens.
const DefaultBridgeURL = "http://127.0.0.1:5678"

// BridgeController speaks JSON over HTTP to the game-control bridge.
type BridgeController struct {
	baseURL string
	client  *http.Client
}

func NewBridgeController(baseURL string) *BridgeController {
	if baseURL == "" {
		baseURL = DefaultBridgeURL
	}
	return &BridgeController{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{},
	}
}

func (c *BridgeController) StartSession(ctx context.Context, mapName string, opts SessionOptions) (Session, error) {
	req := struct {
		Map string `json:"map"`
		SessionOptions
	}{Map: mapName, SessionOptions: opts}
	var resp struct {
		ID string `json:"id"`
	}
	if err := c.do(ctx, http.MethodPost, "/sessions", req, &resp); err != nil {
		return nil, err
	}
	if resp.ID == "" {
		return nil, fmt.Errorf("bridge returned no session id")
	}
	return &bridgeSession{c: c, id: resp.ID}, nil
}

func (c *BridgeController) do(ctx context.Context, method, p string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+p, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	res, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode > 299 {
		data, _ := io.ReadAll(res.Body)
		return fmt.Errorf("bridge %s %s: status %d: %s", method, p, res.StatusCode, strings.TrimSpace(string(data)))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(res.Body).Decode(out)
}

type bridgeSession struct {
	c  *BridgeController
	id string
}

func (s *bridgeSession) ID() string { return s.id }

func (s *bridgeSession) path(suffix string) string {
	return "/sessions/" + url.PathEscape(s.id) + suffix
}

func (s *bridgeSession) Spawn(ctx context.Context, orders []UnitOrder) error {
	req := struct {
		Orders []UnitOrder `json:"orders"`
	}{orders}
	return s.c.do(ctx, http.MethodPost, s.path("/spawn"), req, nil)
}

func (s *bridgeSession) Kill(ctx context.Context, tags ...uint64) error {
	req := struct {
		Tags []uint64 `json:"tags"`
	}{tags}
	return s.c.do(ctx, http.MethodPost, s.path("/kill"), req, nil)
}

func (s *bridgeSession) Step(ctx context.Context, n int) (int, error) {
	req := struct {
		Count int `json:"count"`
	}{n}
	var resp struct {
		Loop int `json:"loop"`
	}
	if err := s.c.do(ctx, http.MethodPost, s.path("/step"), req, &resp); err != nil {
		return 0, err
	}
	return resp.Loop, nil
}

func (s *bridgeSession) Units(ctx context.Context) ([]Unit, error) {
	var resp struct {
		Units []Unit `json:"units"`
	}
	if err := s.c.do(ctx, http.MethodGet, s.path("/units"), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Units, nil
}

func (s *bridgeSession) Use(ctx context.Context, tag uint64, ability string, target uint64) error {
	req := struct {
		Tag     uint64 `json:"tag"`
		Ability string `json:"ability"`
		Target  uint64 `json:"target,omitempty"`
	}{tag, ability, target}
	return s.c.do(ctx, http.MethodPost, s.path("/use"), req, nil)
}

func (s *bridgeSession) Weapons(ctx context.Context, unitType string) (int, error) {
	var resp struct {
		Count int `json:"count"`
	}
	p := s.path("/weapons") + "?unit=" + url.QueryEscape(unitType)
	if err := s.c.do(ctx, http.MethodGet, p, nil, &resp); err != nil {
		return 0, err
	}
	return resp.Count, nil
}

func (s *bridgeSession) Close(ctx context.Context) error {
	return s.c.do(ctx, http.MethodDelete, s.path(""), nil, nil)
}
