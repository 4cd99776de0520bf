package api

// @title Headers Manager API
// @version v1.0.0
// @description Per-website HTTP request header rewriting: websites, header rules, storage and installed directives.

// @license.name Apache 2.0
// @license.url http://www.apache.org/licenses/LICENSE-2.0.html

// @host localhost:8778
// @BasePath /api
// @schemes http
