// Copyright (C) 2017 Michael J. Fromberger. All Rights Reserved.

package handler

import (
	"context"
	"encoding/json"
	"sort"

	"github.com/creachadair/mcp"
)

// A ToolFunc implements the body of a tool invoked through tools/call. It
// receives the raw "arguments" payload from the call, or nil if the caller
// supplied none.
type ToolFunc func(ctx context.Context, arguments json.RawMessage) (any, error)

// A Tool describes one entry in a tools/list response and supplies the
// function tools/call dispatches to when the tool is named.
type Tool struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	InputSchema any    `json:"inputSchema,omitempty"`

	Call ToolFunc `json:"-"`
}

// A ToolSet implements mcp.Assigner for the tools/list and tools/call
// methods over a fixed collection of Tools, the way Map does for a single
// method family.
type ToolSet map[string]Tool

// Assign implements mcp.Assigner. It serves tools/list from the
// registered descriptions and routes tools/call to the named tool's Call
// function.
func (t ToolSet) Assign(_ context.Context, method string) mcp.Handler {
	switch method {
	case "tools/list":
		return t.listTools
	case "tools/call":
		return t.callTool
	}
	return nil
}

// Names implements the optional mcp.Namer extension interface.
func (t ToolSet) Names() []string { return []string{"tools/list", "tools/call"} }

func (t ToolSet) listTools(context.Context, *mcp.Request) (any, error) {
	names := make([]string, 0, len(t))
	for name := range t {
		names = append(names, name)
	}
	sort.Strings(names)
	tools := make([]Tool, len(names))
	for i, name := range names {
		tools[i] = t[name]
	}
	return struct {
		Tools []Tool `json:"tools"`
	}{Tools: tools}, nil
}

type callToolParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

func (t ToolSet) callTool(ctx context.Context, req *mcp.Request) (any, error) {
	var p callToolParams
	if err := req.UnmarshalParams(&p); err != nil {
		return nil, err
	}
	tool, ok := t[p.Name]
	if !ok || tool.Call == nil {
		return nil, mcp.Errorf(mcp.InvalidParams, "unknown tool %q", p.Name).WithReason("unknown_tool")
	}
	result, err := tool.Call(ctx, p.Arguments)
	if err != nil {
		if _, ok := err.(*mcp.Error); ok {
			return nil, err
		}
		return nil, mcp.Errorf(mcp.RequestFailed, "%v", err).WithReason(err.Error())
	}
	return result, nil
}

// A Prompt describes one entry in a prompts/list response and supplies the
// function prompts/get dispatches to when the prompt is named.
type Prompt struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Arguments   any    `json:"arguments,omitempty"`

	Get func(ctx context.Context, arguments json.RawMessage) (any, error) `json:"-"`
}

// A PromptSet implements mcp.Assigner for prompts/list and prompts/get.
type PromptSet map[string]Prompt

// Assign implements mcp.Assigner.
func (p PromptSet) Assign(_ context.Context, method string) mcp.Handler {
	switch method {
	case "prompts/list":
		return p.listPrompts
	case "prompts/get":
		return p.getPrompt
	}
	return nil
}

// Names implements the optional mcp.Namer extension interface.
func (p PromptSet) Names() []string { return []string{"prompts/list", "prompts/get"} }

func (p PromptSet) listPrompts(context.Context, *mcp.Request) (any, error) {
	names := make([]string, 0, len(p))
	for name := range p {
		names = append(names, name)
	}
	sort.Strings(names)
	prompts := make([]Prompt, len(names))
	for i, name := range names {
		prompts[i] = p[name]
	}
	return struct {
		Prompts []Prompt `json:"prompts"`
	}{Prompts: prompts}, nil
}

type getPromptParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

func (p PromptSet) getPrompt(ctx context.Context, req *mcp.Request) (any, error) {
	var gp getPromptParams
	if err := req.UnmarshalParams(&gp); err != nil {
		return nil, err
	}
	prompt, ok := p[gp.Name]
	if !ok || prompt.Get == nil {
		return nil, mcp.Errorf(mcp.InvalidParams, "unknown prompt %q", gp.Name)
	}
	return prompt.Get(ctx, gp.Arguments)
}

// A Resource describes one entry in a resources/list response and
// supplies the function resources/read dispatches to when its URI is
// requested.
type Resource struct {
	URI         string `json:"uri"`
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
	MIMEType    string `json:"mimeType,omitempty"`

	Read func(ctx context.Context, uri string) (any, error) `json:"-"`
}

// A ResourceSet implements mcp.Assigner for resources/list and
// resources/read, keyed by URI.
type ResourceSet map[string]Resource

// Assign implements mcp.Assigner.
func (r ResourceSet) Assign(_ context.Context, method string) mcp.Handler {
	switch method {
	case "resources/list":
		return r.listResources
	case "resources/read":
		return r.readResource
	}
	return nil
}

// Names implements the optional mcp.Namer extension interface.
func (r ResourceSet) Names() []string { return []string{"resources/list", "resources/read"} }

func (r ResourceSet) listResources(context.Context, *mcp.Request) (any, error) {
	uris := make([]string, 0, len(r))
	for uri := range r {
		uris = append(uris, uri)
	}
	sort.Strings(uris)
	resources := make([]Resource, len(uris))
	for i, uri := range uris {
		resources[i] = r[uri]
	}
	return struct {
		Resources []Resource `json:"resources"`
	}{Resources: resources}, nil
}

type readResourceParams struct {
	URI string `json:"uri"`
}

func (r ResourceSet) readResource(ctx context.Context, req *mcp.Request) (any, error) {
	var rp readResourceParams
	if err := req.UnmarshalParams(&rp); err != nil {
		return nil, err
	}
	res, ok := r[rp.URI]
	if !ok || res.Read == nil {
		return nil, mcp.Errorf(mcp.ResourceNotFound, "unknown resource %q", rp.URI)
	}
	return res.Read(ctx, rp.URI)
}

// Union combines several mcp.Assigners into one by trying each in order
// and returning the first non-nil Handler, the way an application wires
// its ToolSet, PromptSet, and ResourceSet (and any other Map) into a
// single Assigner for mcp.SessionOptions.Assigner.
type Union []mcp.Assigner

// Assign implements mcp.Assigner.
func (u Union) Assign(ctx context.Context, method string) mcp.Handler {
	for _, a := range u {
		if h := a.Assign(ctx, method); h != nil {
			return h
		}
	}
	return nil
}

// Names implements the optional mcp.Namer extension interface, merging the
// names of every member that implements mcp.Namer.
func (u Union) Names() []string {
	var all []string
	for _, a := range u {
		if namer, ok := a.(mcp.Namer); ok {
			all = append(all, namer.Names()...)
		}
	}
	sort.Strings(all)
	return all
}
