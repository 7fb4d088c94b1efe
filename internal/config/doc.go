// Package config defines configuration structures for the sfchunk CLI.
//
// Configuration can be provided via:
//   - Command-line flags
//   - Environment variables (SFCHUNK_ prefix)
//   - YAML configuration file
//
// Flags override environment variables, which override the file.
//
// # File Format
//
//	manifest: results/q1.manifest.json
//	concurrency: 8
//	parser: reusable
//	memory_limit: 512MiB
//	retry:
//	  max_retries: 7
//	  backoff: 1s
//	  max_backoff: 16s
//	  force_retry_on_404: false
//	http:
//	  timeout: 60s
//	  requests_per_second: 0
//	proxy:
//	  enabled: true
//	  host: proxy.internal
//	  port: 3128
//	  no_proxy: ["*.amazonaws.com"]
//	crl:
//	  enabled: true
//	  fail_open: true
package config
