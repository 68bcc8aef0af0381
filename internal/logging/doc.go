// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package logging configures zerolog for the application and adapts it to
// the loggers third-party libraries expect.
//
// # Usage
//
//	logger, closer, err := logging.Setup(logging.Config{Level: "info"}, os.Stderr)
//	if err != nil {
//		return err
//	}
//	defer closer.Close()
//
//	pubsub := gochannel.NewGoChannel(gochannel.Config{}, logging.NewWatermill(logger))
package logging
