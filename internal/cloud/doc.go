// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cloud talks to OpenAI-compatible chat completion endpoints.
//
// Requests are built from model.Message history with the go-openai request
// types; responses are consumed as server-sent events by a Decoder that turns
// the byte stream into a lazy sequence of text deltas.
//
// # Key Types
//
//   - Client: POSTs streaming completion requests and returns a Decoder
//   - Decoder: pull-based delta iterator over data: frames
//   - Params: model and sampling parameters for one request
//   - APIError: non-2xx response from the provider
//
// # Usage
//
//	client := cloud.NewClient(cfg, log.Logger)
//	req := cloud.BuildRequest(client.Params("gpt-4o"), history)
//	dec, err := client.Stream(ctx, req)
//	if err != nil {
//		return err
//	}
//	defer dec.Close()
//	for {
//		delta, err := dec.Next()
//		if err == io.EOF {
//			break
//		}
//		if err != nil {
//			return err
//		}
//		fmt.Print(delta)
//	}
//
// # Frames
//
// Each line of the form "data: <json>" carries one chunk; "data: [DONE]"
// ends the stream. Lines that are not data frames are ignored and malformed
// JSON frames are logged and skipped without ending the stream.
package cloud
