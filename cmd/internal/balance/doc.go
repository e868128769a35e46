// Package balance streams a user's running balance over a WebSocket.
//
// The balance is income minus every other transaction type. When a rates
// endpoint is configured the value is also shown in USD, CNY and EUR.
package balance
