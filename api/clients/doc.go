/*
Package clients provides a Go client for the artifact repository HTTP API.

ArtifactClient covers deploys, downloads, directory listings, file details,
"latest" version resolution and the admin endpoints. Non-2xx responses are
returned as *ResponseError, which matches the storage error kinds:

	client := &clients.ArtifactClient{
	    ServerAddr: "https://artifacts.example.com",
	    Token:      "ci",
	    Secret:     os.Getenv("ARTIFACTS_SECRET"),
	}

	_, err := client.Deploy(ctx, "releases", "com/acme/lib/1.0/lib-1.0.jar", f, size)
	if errors.Is(err, interfaces.ErrCapacityExceeded) {
	    // repository is full
	}

MockArtifactAPI is a testify mock of the ArtifactAPI interface.
*/
package clients
