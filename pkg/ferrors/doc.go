/*
Package ferrors defines the error taxonomy shared across Formation's
components: the queue, state store, build engine, DNS authority and
reverse proxy all return errors built from a small set of Kinds so
callers (HTTP handlers, CLI, queue consumers) can branch on what went
wrong without string matching.
*/
package ferrors
