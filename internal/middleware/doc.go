// Package middleware 提供了 HTTP 請求處理的中間件。
//
// 包含 JWT 身分驗證與以 zerolog 記錄請求的中間件。
package middleware
