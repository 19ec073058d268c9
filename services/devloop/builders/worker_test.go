// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package builders

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/exodev/services/devloop/cancel"
	"github.com/AleutianAI/exodev/services/devloop/codegen"
)

// recordingSender captures worker messages as JSON, the way the channel
// would carry them.
type recordingSender struct {
	msgs []json.RawMessage
	err  error
}

func (s *recordingSender) Send(v any) error {
	if s.err != nil {
		return s.err
	}
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	s.msgs = append(s.msgs, b)
	return nil
}

func envLookup(env map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}
}

func TestRunWorker_SendsResult(t *testing.T) {
	root := writeTree(t, map[string]string{
		"app/controllers/user.ts": "@Router({ prefix: \"/user\" })\nexport class UserController {}\n",
	})
	req := routerRequest(root)

	var s recordingSender
	require.NoError(t, RunWorker(context.Background(), &s, envLookup(req.EnvMap())))
	require.Len(t, s.msgs, 1)

	res, err := DecodeReply(CategoryRouter, s.msgs[0])
	require.NoError(t, err)
	assert.Equal(t, CategoryRouter, res.Category)
	assert.Equal(t, []string{"user.js"}, res.Routes)
	assert.Equal(t, []string{filepath.Join(req.OutputRoot, "user.js")}, res.Written)
}

func TestRunWorker_InvalidRequest(t *testing.T) {
	var s recordingSender
	err := RunWorker(context.Background(), &s, envLookup(map[string]string{
		EnvCategory: "config",
		EnvEnabled:  "true",
	}))
	require.ErrorIs(t, err, ErrInvalidRequest)
	require.Len(t, s.msgs, 1)

	_, remote := DecodeReply(CategoryConfig, s.msgs[0])
	assert.ErrorIs(t, remote, ErrInvalidRequest)
	var re *RemoteError
	require.ErrorAs(t, remote, &re)
	assert.Equal(t, KindInvalidRequest, re.Kind)
}

func TestRunWorker_SendFailure(t *testing.T) {
	s := recordingSender{err: errors.New("broken pipe")}
	err := RunWorker(context.Background(), &s, envLookup(map[string]string{EnvCategory: "config"}))
	assert.ErrorIs(t, err, ErrInvalidRequest)
	assert.ErrorContains(t, err, "broken pipe")
}

func TestNewReply_Kinds(t *testing.T) {
	tests := []struct {
		err  error
		kind string
		is   error
	}{
		{fmt.Errorf("x: %w", ErrUnknownCategory), KindInvalidRequest, ErrInvalidRequest},
		{&codegen.MalformedSourceError{Path: "a.ts", Reason: "no default export"}, KindMalformedSource, codegen.ErrMalformedSource},
		{fmt.Errorf("x: %w", codegen.ErrParse), KindParse, codegen.ErrParse},
		{fmt.Errorf("x: %w", codegen.ErrTranspile), KindTranspile, codegen.ErrTranspile},
		{cancel.ErrOperationCanceled, KindCanceled, cancel.ErrOperationCanceled},
		{context.Canceled, KindCanceled, cancel.ErrOperationCanceled},
		{errors.New("disk full"), KindInternal, nil},
	}
	for _, tt := range tests {
		t.Run(tt.kind+"/"+tt.err.Error(), func(t *testing.T) {
			r := NewReply(nil, tt.err)
			assert.Equal(t, tt.kind, r.Kind)

			raw, err := json.Marshal(r)
			require.NoError(t, err)
			_, remote := DecodeReply(CategoryMiddleware, raw)
			require.Error(t, remote)
			assert.Contains(t, remote.Error(), "middleware build: ")
			if tt.is != nil {
				assert.ErrorIs(t, remote, tt.is)
			}
		})
	}
}

func TestDecodeReply_Malformed(t *testing.T) {
	_, err := DecodeReply(CategoryConfig, json.RawMessage(`"text"`))
	assert.Error(t, err)

	_, err = DecodeReply(CategoryConfig, json.RawMessage(`{}`))
	assert.ErrorContains(t, err, "no result")
}
