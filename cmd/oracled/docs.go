package main

//go:generate swag init -g cmd/oracled/main.go -o docs

// @title           Nest Oracle API
// @version         0.1.0
// @description     Optimistic assertions, disputes and commit-reveal price voting.
// @host            localhost:8080
// @BasePath        /
// @schemes         http
