// Package main runs the Note Companion API server.
//
// @title Note Companion API
// @version 1.0
// @description Backend for the Note Companion note-taking assistant: metered AI note operations, usage ledger, subscriptions, and billing webhooks.
// @BasePath /api
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
package main
