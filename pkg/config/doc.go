// Configuration reaches ExportConfig in layers, each overriding the last:
//
//  1. NewExportConfig defaults
//  2. a YAML file passed with --config, loaded by Load
//  3. PGEXPORT_* environment variables (a .env file is honored)
//  4. explicit command line flags
//
// # Environment Variable Substitution
//
// The YAML file may reference the environment with ${VAR_NAME}:
//
//	# pgexport.yaml
//	database:
//	  host: db.internal
//	  user: ${PGUSER}
//	  password: ${PGPASSWORD}
//	export:
//	  owner: reporting
//	  output_dir: /var/exports
//	  parallel: true
//	  page_size: 500
//
// Unset variables substitute to the empty string.
package config
