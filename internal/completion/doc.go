// Package completion talks to the text-completion service that powers each
// specialist and the synthesis step.
//
// Client is the narrow interface the rest of the service depends on. LLM
// implements it on top of langchaingo against any OpenAI-compatible
// endpoint, with client-side rate limiting and retry. ParseAnalysis turns a
// specialist's raw output into an Analysis, rejecting anything that does not
// match the expected JSON shape.
package completion
