// Package bitstamp implements the Bitstamp v2 API.
//
// The package includes:
//   - Protocol: request building and response parsing for the REST endpoints
//   - Normalizer: conversion of wire JSON into exact-decimal core types
//   - Exchange: the typed REST client, signed through internal/transport
//   - WSClient: the live trades and order book stream with fan-out to sinks
//
// Example usage:
//
//	c, err := bitstamp.NewWSClient([]string{"btcusd"})
//	q := stream.NewQueue()
//	c.Register(q)
//	err = c.Start()
//	defer c.Stop()
//	ev, err := q.Pop(ctx)
package bitstamp
