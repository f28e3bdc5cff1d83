// keyquota issues API keys, binds them to quota plans, and meters their usage.
//
// Usage:
//
//	# Start the HTTP service
//	keyquota serve
//
//	# Manage plans and keys directly against the store
//	keyquota plans create free --limit 1000 --period 1d
//	keyquota keys create --plan free
//
//	# Inspect usage
//	keyquota usage get <key>
//	keyquota stats <key> --since 2025-01-01
//
// Configuration is read from KEYQUOTA_* environment variables and an
// optional .env file.
package main

func main() {
	Execute()
}
