// Package stream captures realtime trades from the Polygon.io websocket feed.
//
// A Stream authenticates with the API key, subscribes to the trade channel
// ("T.<ticker>") of each requested ticker and buffers incoming trades until
// one of its limits is reached: a maximum number of trades, a capture
// duration or cancellation of the caller's context. All three are normal
// stops. A rejected key is an AUTH error; a dropped connection is a NETWORK
// error.
package stream
