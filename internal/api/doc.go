// Package api 處理 HTTP 請求路由。
//
// 路由將 HTTP 與 WebSocket 請求交給 handlers，handlers 再呼叫 service 層的房間指令。
package api
