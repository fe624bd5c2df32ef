package httpapi

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/valyala/fasthttp"

	"github.com/park285/chess-arena/internal/gametype"
	"github.com/park285/chess-arena/internal/rules"
	"github.com/park285/chess-arena/internal/session"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	types, err := gametype.Load("")
	if err != nil {
		t.Fatalf("gametype.Load: %v", err)
	}
	store := session.NewStore(rdb)
	manager := session.NewManager(store, rules.NewEngine(), types, time.Minute)
	return NewServer(manager, store, types)
}

func doRequest(t *testing.T, s *Server, method, uri, body string) (int, map[string]any) {
	t.Helper()
	var req fasthttp.Request
	req.Header.SetMethod(method)
	req.SetRequestURI(uri)
	if body != "" {
		req.SetBodyString(body)
	}
	ctx := &fasthttp.RequestCtx{}
	ctx.Init(&req, nil, nil)
	s.Handler(ctx)

	var parsed map[string]any
	if err := json.Unmarshal(ctx.Response.Body(), &parsed); err != nil {
		t.Fatalf("response not JSON: %v body=%s", err, ctx.Response.Body())
	}
	return ctx.Response.StatusCode(), parsed
}

func createGame(t *testing.T, s *Server) string {
	t.Helper()
	status, resp := doRequest(t, s, "POST", "/api/games",
		`{"white":"alice","black":"bob","gameType":"blitz"}`)
	if status != fasthttp.StatusCreated {
		t.Fatalf("create: status=%d resp=%v", status, resp)
	}
	data := resp["data"].(map[string]any)
	return data["id"].(string)
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	status, resp := doRequest(t, s, "GET", "/", "")
	if status != fasthttp.StatusOK || resp["success"] != true {
		t.Fatalf("health: status=%d resp=%v", status, resp)
	}
}

func TestGameTypesRoute(t *testing.T) {
	s := newTestServer(t)
	status, resp := doRequest(t, s, "GET", "/api/game-types", "")
	if status != fasthttp.StatusOK {
		t.Fatalf("status=%d", status)
	}
	list := resp["data"].([]any)
	if len(list) != 4 {
		t.Fatalf("expected 4 game types, got %d", len(list))
	}
}

func TestCreateAndFetchGame(t *testing.T) {
	s := newTestServer(t)
	id := createGame(t, s)

	status, resp := doRequest(t, s, "GET", "/api/games/"+id, "")
	if status != fasthttp.StatusOK {
		t.Fatalf("get: status=%d resp=%v", status, resp)
	}
	data := resp["data"].(map[string]any)
	if data["status"] != "active" || data["turn"] != "white" {
		t.Fatalf("unexpected game state: %v", data)
	}
}

func TestCreateGameValidation(t *testing.T) {
	s := newTestServer(t)

	status, resp := doRequest(t, s, "POST", "/api/games", `{"white":"alice","gameType":"nope"}`)
	if status != fasthttp.StatusBadRequest || resp["success"] != false {
		t.Fatalf("unknown type: status=%d resp=%v", status, resp)
	}

	status, _ = doRequest(t, s, "POST", "/api/games", `{not json`)
	if status != fasthttp.StatusBadRequest {
		t.Fatalf("malformed body: status=%d", status)
	}
}

func TestGetMissingGame(t *testing.T) {
	s := newTestServer(t)
	status, resp := doRequest(t, s, "GET", "/api/games/game-nope", "")
	if status != fasthttp.StatusNotFound {
		t.Fatalf("status=%d resp=%v", status, resp)
	}
}

func TestMoveRoute(t *testing.T) {
	s := newTestServer(t)
	id := createGame(t, s)

	status, resp := doRequest(t, s, "POST", fmt.Sprintf("/api/games/%s/move", id),
		`{"playerId":"alice","move":"e2e4"}`)
	if status != fasthttp.StatusOK {
		t.Fatalf("move: status=%d resp=%v", status, resp)
	}
	data := resp["data"].(map[string]any)
	if data["turn"] != "black" {
		t.Fatalf("turn did not flip: %v", data)
	}

	// Out of turn.
	status, _ = doRequest(t, s, "POST", fmt.Sprintf("/api/games/%s/move", id),
		`{"playerId":"alice","move":"d2d4"}`)
	if status != fasthttp.StatusBadRequest {
		t.Fatalf("out-of-turn move: status=%d", status)
	}

	// Outsider.
	status, _ = doRequest(t, s, "POST", fmt.Sprintf("/api/games/%s/move", id),
		`{"playerId":"mallory","move":"e7e5"}`)
	if status != fasthttp.StatusForbidden {
		t.Fatalf("outsider move: status=%d", status)
	}
}

func TestResignRoute(t *testing.T) {
	s := newTestServer(t)
	id := createGame(t, s)

	status, resp := doRequest(t, s, "POST", fmt.Sprintf("/api/games/%s/resign", id),
		`{"playerId":"bob"}`)
	if status != fasthttp.StatusOK {
		t.Fatalf("resign: status=%d resp=%v", status, resp)
	}
	data := resp["data"].(map[string]any)
	if data["status"] != "resigned" || data["winner"] != "white" {
		t.Fatalf("unexpected state: %v", data)
	}
}

func TestDrawRoutes(t *testing.T) {
	s := newTestServer(t)
	id := createGame(t, s)

	status, _ := doRequest(t, s, "POST", fmt.Sprintf("/api/games/%s/draw/offer", id),
		`{"playerId":"alice"}`)
	if status != fasthttp.StatusOK {
		t.Fatalf("offer: status=%d", status)
	}

	status, _ = doRequest(t, s, "POST", fmt.Sprintf("/api/games/%s/draw/accept", id),
		`{"playerId":"alice"}`)
	if status != fasthttp.StatusForbidden {
		t.Fatalf("own offer accept: status=%d", status)
	}

	status, resp := doRequest(t, s, "POST", fmt.Sprintf("/api/games/%s/draw/accept", id),
		`{"playerId":"bob"}`)
	if status != fasthttp.StatusOK {
		t.Fatalf("accept: status=%d resp=%v", status, resp)
	}
	data := resp["data"].(map[string]any)
	if data["status"] != "drawn" {
		t.Fatalf("unexpected state: %v", data)
	}
}

func TestListGamesFilter(t *testing.T) {
	s := newTestServer(t)
	createGame(t, s)

	status, resp := doRequest(t, s, "GET", "/api/games?player=alice", "")
	if status != fasthttp.StatusOK {
		t.Fatalf("list: status=%d", status)
	}
	list := resp["data"].([]any)
	if len(list) != 1 {
		t.Fatalf("expected 1 game for alice, got %d", len(list))
	}

	status, resp = doRequest(t, s, "GET", "/api/games?player=nobody", "")
	if status != fasthttp.StatusOK {
		t.Fatalf("empty list: status=%d", status)
	}
	if list := resp["data"].([]any); len(list) != 0 {
		t.Fatalf("expected empty list, got %v", list)
	}
}

func TestJoinRoute(t *testing.T) {
	s := newTestServer(t)
	status, resp := doRequest(t, s, "POST", "/api/games", `{"white":"alice","gameType":"rapid"}`)
	if status != fasthttp.StatusCreated {
		t.Fatalf("create open game: status=%d resp=%v", status, resp)
	}
	id := resp["data"].(map[string]any)["id"].(string)

	status, resp = doRequest(t, s, "POST", fmt.Sprintf("/api/games/%s/join", id),
		`{"playerId":"bob"}`)
	if status != fasthttp.StatusOK {
		t.Fatalf("join: status=%d resp=%v", status, resp)
	}
	data := resp["data"].(map[string]any)
	if data["status"] != "active" || data["black"] != "bob" {
		t.Fatalf("join did not activate: %v", data)
	}
}
