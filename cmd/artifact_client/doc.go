// Package main (cmd/artifact_client) is a command-line client for the artifact
// repository API.
//
// Commands:
//
//	deploy <file> <path>              upload a file to a repository path
//	deploy --coordinate=g:a:v <file>  upload to the Maven layout location of a coordinate
//	get <path>                        download a file
//	ls [path]                         list a directory
//	details <path>                    show file details
//	latest <artifact path>            print the newest version of an artifact
//	repositories                      list repositories
//	status, audit, invalidate         admin commands
//
// Credentials are read from --token/--secret or ARTIFACTS_TOKEN/ARTIFACTS_SECRET.
package main
