// Package coretools provides the built-in tool catalog: calculator,
// getCurrentWeather, web-browser, queryDatabase and summarizeTool.
//
// Every tool takes a single string "input" and returns a string.
// summarizeTool and web-browser make one direct engine call each through
// agent.Complete rather than running a nested reasoning loop.
package coretools
