package mockserver

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rivet-dev/rivetkit/protocol"
)

func TestHandleCreateActorThenListByID(t *testing.T) {
	srv := New(nil)
	httpSrv := httptest.NewServer(srv.Handler())
	defer httpSrv.Close()

	body, _ := json.Marshal(getOrCreateRequest{Name: "room", Key: `["lobby"]`})
	res, err := http.Post(httpSrv.URL+"/actors", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST /actors: %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("POST /actors status = %d, want %d", res.StatusCode, http.StatusCreated)
	}

	var created createResponse
	if err := json.NewDecoder(res.Body).Decode(&created); err != nil {
		t.Fatalf("decode create response: %v", err)
	}
	if created.Actor.ActorID == "" {
		t.Fatal("expected a non-empty actor id")
	}

	listRes, err := http.Get(httpSrv.URL + "/actors?name=room&actor_ids=" + created.Actor.ActorID)
	if err != nil {
		t.Fatalf("GET /actors: %v", err)
	}
	defer listRes.Body.Close()

	var list actorsListResponse
	if err := json.NewDecoder(listRes.Body).Decode(&list); err != nil {
		t.Fatalf("decode list response: %v", err)
	}
	if len(list.Actors) != 1 || list.Actors[0].ActorID != created.Actor.ActorID {
		t.Fatalf("list response = %+v, want one actor matching %q", list, created.Actor.ActorID)
	}
}

func TestHandleGetOrCreateIsIdempotentForSameKey(t *testing.T) {
	srv := New(nil)
	httpSrv := httptest.NewServer(srv.Handler())
	defer httpSrv.Close()

	req := func() *http.Response {
		body, _ := json.Marshal(getOrCreateRequest{Name: "room", Key: `["same-key"]`})
		httpReq, _ := http.NewRequest(http.MethodPut, httpSrv.URL+"/actors", bytes.NewReader(body))
		res, err := http.DefaultClient.Do(httpReq)
		if err != nil {
			t.Fatalf("PUT /actors: %v", err)
		}
		return res
	}

	res1 := req()
	var got1 getOrCreateResponse
	json.NewDecoder(res1.Body).Decode(&got1)
	res1.Body.Close()
	if !got1.Created {
		t.Fatal("expected the first get_or_create to create the actor")
	}

	res2 := req()
	var got2 getOrCreateResponse
	json.NewDecoder(res2.Body).Decode(&got2)
	res2.Body.Close()
	if got2.Created {
		t.Fatal("expected the second get_or_create to find the existing actor")
	}
	if got1.Actor.ActorID != got2.Actor.ActorID {
		t.Fatalf("get_or_create returned different ids for the same key: %q vs %q", got1.Actor.ActorID, got2.Actor.ActorID)
	}
}

func TestHandleActionDispatchesToRegisteredHandler(t *testing.T) {
	srv := New(nil)
	rec := srv.CreateForTest("room", nil)
	srv.HandleAction("greet", func(_ context.Context, actorID string, args []any) (any, error) {
		name, _ := args[0].(string)
		return "hello, " + name, nil
	})

	httpSrv := httptest.NewServer(srv.Handler())
	defer httpSrv.Close()

	argsCBOR, err := protocol.EncodeArgs([]any{"world"})
	if err != nil {
		t.Fatalf("EncodeArgs: %v", err)
	}

	req, _ := http.NewRequest(http.MethodPost, httpSrv.URL+"/action/greet", bytes.NewReader(argsCBOR))
	req.Header.Set(protocol.HeaderRivetActor, rec.ID)
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("POST /action/greet: %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}

	outputCBOR, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read response body: %v", err)
	}
	output, err := protocol.DecodeValue(outputCBOR)
	if err != nil {
		t.Fatalf("DecodeValue: %v", err)
	}
	if output != "hello, world" {
		t.Fatalf("output = %v, want %q", output, "hello, world")
	}
}

func TestHandleActionUnknownActorIsNotFound(t *testing.T) {
	srv := New(nil)
	httpSrv := httptest.NewServer(srv.Handler())
	defer httpSrv.Close()

	argsCBOR, err := protocol.EncodeArgs(nil)
	if err != nil {
		t.Fatalf("EncodeArgs: %v", err)
	}

	req, _ := http.NewRequest(http.MethodPost, httpSrv.URL+"/action/noop", bytes.NewReader(argsCBOR))
	req.Header.Set(protocol.HeaderRivetActor, "nonexistent")
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("POST /action/noop: %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusNotFound)
	}
}
