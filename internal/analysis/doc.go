// Package analysis is the built-in work unit run for each operation. A
// Pipeline walks an ordered list of stages that resolve the subject
// repository, collect the repositories its stargazers also starred, keep
// the strongest matches and publish their statistics.
//
// Stages talk to the outside world only through a Source and report
// everything observable through the operation hooks. Upstream calls share
// one rate limiter, and per-item fan-out is bounded by an errgroup limit.
package analysis
