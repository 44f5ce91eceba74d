package db

import (
	"context"
	"encoding/base64"
	"fmt"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/option"
)

// NewFirestoreClient opens a client for projectID. database selects a named
// database ("" is the default one). credentialsB64 is an optional base64
// encoded service account key; when empty, application default credentials
// are used.
func NewFirestoreClient(ctx context.Context, projectID, database, credentialsB64 string) (*firestore.Client, error) {
	var opts []option.ClientOption
	if credentialsB64 != "" {
		creds, err := base64.StdEncoding.DecodeString(credentialsB64)
		if err != nil {
			return nil, fmt.Errorf("decode firestore credentials: %w", err)
		}
		opts = append(opts, option.WithCredentialsJSON(creds))
	}

	if database == "" {
		database = firestore.DefaultDatabaseID
	}
	client, err := firestore.NewClientWithDatabase(ctx, projectID, database, opts...)
	if err != nil {
		return nil, fmt.Errorf("firestore.NewClientWithDatabase: %w", err)
	}
	return client, nil
}
