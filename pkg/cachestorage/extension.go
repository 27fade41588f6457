package cachestorage

import (
	"encoding/base64"

	"github.com/freitascorp/andromeda/pkg/extension"
	"github.com/freitascorp/andromeda/pkg/hostdata"
	"github.com/freitascorp/andromeda/pkg/hosterror"
	"github.com/freitascorp/andromeda/pkg/jsagent"
)

// NewExtension declares the "cache_storage" capability: the supplemented
// HTTP cache-storage layout from spec §6, backed by one *Store stored in
// the agent's Host Data.
func NewExtension(path string) extension.Extension {
	return extension.Extension{
		Name:      "cache_storage",
		Namespace: "cache_storage",
		StorageInit: func(agent jsagent.Agent) error {
			store, err := Open(path)
			if err != nil {
				return err
			}
			hostdata.Set(agent.HostData(), store)
			return nil
		},
		Ops: []extension.ExtensionOp{
			{Name: "open", Handler: opOpen, ArgCount: 1},
			{Name: "has", Handler: opHas, ArgCount: 1},
			{Name: "delete_cache", Handler: opDeleteCache, ArgCount: 1},
			{Name: "cache_names", Handler: opCacheNames, ArgCount: 0},
			{Name: "put", Handler: opPut, ArgCount: 2},
			{Name: "match", Handler: opMatch, ArgCount: 2},
			{Name: "match_all", Handler: opMatchAll, ArgCount: 2},
			{Name: "delete", Handler: opDelete, ArgCount: 2},
			{Name: "keys", Handler: opKeys, ArgCount: 1},
		},
	}
}

func store(agent jsagent.Agent) (*Store, error) {
	s, ok := hostdata.Get[*Store](agent.HostData())
	if !ok {
		return nil, hosterror.New(hosterror.KindInternalError, "cache_storage extension storage not initialized")
	}
	return s, nil
}

func argString(args []jsagent.Value, i int) (string, bool) {
	if i >= len(args) {
		return "", false
	}
	s, ok := args[i].Export().(string)
	return s, ok
}

func argObject(args []jsagent.Value, i int) (map[string]any, bool) {
	if i >= len(args) {
		return nil, false
	}
	m, ok := args[i].Export().(map[string]any)
	return m, ok
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

func headersField(m map[string]any) map[string]string {
	raw, ok := m["headers"].(map[string]any)
	if !ok {
		return nil
	}
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		if s, ok := v.(string); ok {
			out[k] = s
		}
	}
	return out
}

func toCachedRequest(m map[string]any) CachedRequest {
	return CachedRequest{
		URL:     stringField(m, "url"),
		Method:  stringField(m, "method"),
		Headers: headersField(m),
	}
}

func toCachedResponse(m map[string]any) CachedResponse {
	resp := CachedResponse{
		Status:     0,
		StatusText: stringField(m, "statusText"),
		Headers:    headersField(m),
		URL:        stringField(m, "url"),
	}
	if status, ok := m["status"].(float64); ok {
		resp.Status = int(status)
	}
	if body, ok := m["body"].(string); ok {
		if decoded, err := base64.StdEncoding.DecodeString(body); err == nil {
			resp.Body = decoded
		}
	}
	return resp
}

func toRequestValue(agent jsagent.Agent, req CachedRequest) jsagent.Value {
	headers := make(map[string]jsagent.Value, len(req.Headers))
	for k, v := range req.Headers {
		headers[k] = agent.NewString(v)
	}
	return agent.NewObject(map[string]jsagent.Value{
		"url":     agent.NewString(req.URL),
		"method":  agent.NewString(req.Method),
		"headers": agent.NewObject(headers),
	})
}

func toResponseValue(agent jsagent.Agent, resp CachedResponse) jsagent.Value {
	headers := make(map[string]jsagent.Value, len(resp.Headers))
	for k, v := range resp.Headers {
		headers[k] = agent.NewString(v)
	}
	return agent.NewObject(map[string]jsagent.Value{
		"status":     agent.NewNumber(float64(resp.Status)),
		"statusText": agent.NewString(resp.StatusText),
		"headers":    agent.NewObject(headers),
		"body":       agent.NewString(base64.StdEncoding.EncodeToString(resp.Body)),
		"url":        agent.NewString(resp.URL),
	})
}

func opOpen(agent jsagent.Agent, this jsagent.Value, args []jsagent.Value) (jsagent.Value, error) {
	s, err := store(agent)
	if err != nil {
		return nil, err
	}
	name, _ := argString(args, 0)
	if err := s.OpenCache(name); err != nil {
		return nil, err
	}
	return agent.Undefined(), nil
}

func opHas(agent jsagent.Agent, this jsagent.Value, args []jsagent.Value) (jsagent.Value, error) {
	s, err := store(agent)
	if err != nil {
		return nil, err
	}
	name, _ := argString(args, 0)
	has, err := s.HasCache(name)
	if err != nil {
		return nil, err
	}
	return agent.NewBool(has), nil
}

func opDeleteCache(agent jsagent.Agent, this jsagent.Value, args []jsagent.Value) (jsagent.Value, error) {
	s, err := store(agent)
	if err != nil {
		return nil, err
	}
	name, _ := argString(args, 0)
	existed, err := s.DeleteCache(name)
	if err != nil {
		return nil, err
	}
	return agent.NewBool(existed), nil
}

func opCacheNames(agent jsagent.Agent, this jsagent.Value, args []jsagent.Value) (jsagent.Value, error) {
	s, err := store(agent)
	if err != nil {
		return nil, err
	}
	names, err := s.CacheNames()
	if err != nil {
		return nil, err
	}
	out := make([]jsagent.Value, len(names))
	for i, n := range names {
		out[i] = agent.NewString(n)
	}
	return agent.NewArray(out...), nil
}

func opPut(agent jsagent.Agent, this jsagent.Value, args []jsagent.Value) (jsagent.Value, error) {
	s, err := store(agent)
	if err != nil {
		return nil, err
	}
	name, _ := argString(args, 0)
	reqObj, _ := argObject(args, 1)
	respObj, _ := argObject(args, 2)
	if err := s.Put(name, toCachedRequest(reqObj), toCachedResponse(respObj)); err != nil {
		return nil, err
	}
	return agent.Undefined(), nil
}

func opMatch(agent jsagent.Agent, this jsagent.Value, args []jsagent.Value) (jsagent.Value, error) {
	s, err := store(agent)
	if err != nil {
		return nil, err
	}
	name, _ := argString(args, 0)
	reqObj, _ := argObject(args, 1)
	resp, found, err := s.Match(name, toCachedRequest(reqObj))
	if err != nil {
		return nil, err
	}
	if !found {
		return agent.Undefined(), nil
	}
	return toResponseValue(agent, resp), nil
}

func opMatchAll(agent jsagent.Agent, this jsagent.Value, args []jsagent.Value) (jsagent.Value, error) {
	s, err := store(agent)
	if err != nil {
		return nil, err
	}
	name, _ := argString(args, 0)
	reqObj, _ := argObject(args, 1)
	responses, err := s.MatchAll(name, toCachedRequest(reqObj))
	if err != nil {
		return nil, err
	}
	out := make([]jsagent.Value, len(responses))
	for i, r := range responses {
		out[i] = toResponseValue(agent, r)
	}
	return agent.NewArray(out...), nil
}

func opDelete(agent jsagent.Agent, this jsagent.Value, args []jsagent.Value) (jsagent.Value, error) {
	s, err := store(agent)
	if err != nil {
		return nil, err
	}
	name, _ := argString(args, 0)
	reqObj, _ := argObject(args, 1)
	existed, err := s.Delete(name, toCachedRequest(reqObj))
	if err != nil {
		return nil, err
	}
	return agent.NewBool(existed), nil
}

func opKeys(agent jsagent.Agent, this jsagent.Value, args []jsagent.Value) (jsagent.Value, error) {
	s, err := store(agent)
	if err != nil {
		return nil, err
	}
	name, _ := argString(args, 0)
	reqs, err := s.Keys(name)
	if err != nil {
		return nil, err
	}
	out := make([]jsagent.Value, len(reqs))
	for i, r := range reqs {
		out[i] = toRequestValue(agent, r)
	}
	return agent.NewArray(out...), nil
}
