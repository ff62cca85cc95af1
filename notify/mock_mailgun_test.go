/*
Copyright 2015-2021 Gravitational, Inc.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package notify

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"

	"github.com/google/uuid"
	"github.com/gravitational/trace"
	log "github.com/sirupsen/logrus"
)

const multipartFormBufSize = 8192

type mockMailgunMessage struct {
	ID        string
	Sender    string
	Recipient string
	Subject   string
	Body      string
}

// mockMailgunServer records the messages posted to it.
type mockMailgunServer struct {
	server     *httptest.Server
	chMessages chan mockMailgunMessage
}

func newMockMailgunServer() *mockMailgunServer {
	mg := &mockMailgunServer{
		chMessages: make(chan mockMailgunMessage, 10),
	}
	mg.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(multipartFormBufSize); err != nil && !errors.Is(err, http.ErrNotMultipart) {
			log.Error(err)
		}
		id := uuid.NewString()
		mg.chMessages <- mockMailgunMessage{
			ID:        id,
			Sender:    r.PostFormValue("from"),
			Recipient: r.PostFormValue("to"),
			Subject:   r.PostFormValue("subject"),
			Body:      r.PostFormValue("text"),
		}
		fmt.Fprintf(w, `{"id": "%v", "message": "Queued. Thank you."}`, id)
	}))
	return mg
}

func (m *mockMailgunServer) URL() string {
	return m.server.URL + "/v4"
}

func (m *mockMailgunServer) getMessage(ctx context.Context) (mockMailgunMessage, error) {
	select {
	case message := <-m.chMessages:
		return message, nil
	case <-ctx.Done():
		return mockMailgunMessage{}, trace.Wrap(ctx.Err())
	}
}

func (m *mockMailgunServer) Close() {
	m.server.Close()
}
