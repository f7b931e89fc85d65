package config

// DefaultConfigYAML is written by `crashrelay init`.
const DefaultConfigYAML = `# crashrelay configuration
#
# Every key can be overridden with an environment variable, for example
# CRASHRELAY_UPLOAD_ENDPOINT or CRASHRELAY_QUEUE_SLOTS.

log:
  level: info
  format: auto        # auto, text, json

store:
  dir: .crashrelay/reports
  # Refuse new captures when the filesystem has less free space than this.
  min_free_bytes: 67108864
  # Purge reports older than this. Empty disables age-based purging.
  max_age: ""

consent:
  marker: .crashrelay/consent.json

queue:
  # Concurrent uploads. With more than one slot, normal reports use at most
  # slots-1 and the last slot is kept for urgent reports.
  slots: 1
  # Stop requeuing after this many failed attempts. 0 means no limit.
  max_attempts: 0
  # Wait this long before a failed report rejoins the queue.
  retry_delay: 30s

upload:
  transport: http     # http, s3
  endpoint: ""        # e.g. https://crash.example.com/v1/reports
  method: PUT
  timeout: 60s
  headers: {}
  s3:
    bucket: ""
    region: ""
    endpoint: ""
    prefix: reports

packaging:
  kind: zstd          # passthrough, zstd, lz4
  level: 3

journal:
  path: .crashrelay/journal.db
  retention: 720h

server:
  addr: 127.0.0.1:8787
  cors_origins:
    - http://localhost:*
    - http://127.0.0.1:*

watch:
  enabled: false
  debounce: 250ms

diagnostics:
  capture_panics: true
  include_stack: true
`
