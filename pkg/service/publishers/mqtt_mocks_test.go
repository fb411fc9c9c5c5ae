// CC2 Provisioner
// Copyright (c) 2025 The CC2 Provisioner Contributors.
// SPDX-License-Identifier: GPL-3.0-or-later
//
// This file is part of CC2 Provisioner.
//
// CC2 Provisioner is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// CC2 Provisioner is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with CC2 Provisioner.  If not, see <http://www.gnu.org/licenses/>.

package publishers

import (
	"time"

	"github.com/cannatrols/cc2-provisioner/pkg/helpers/syncutil"
	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// fakeMQTTClient implements mqtt.Client and reports every publish on a
// channel so tests can wait for it.
type fakeMQTTClient struct {
	connectErr  error
	publishErr  error
	published   chan publishedMessage
	opts        *mqtt.ClientOptions
	disconnects int
	connected   bool
	mu          syncutil.Mutex
}

type publishedMessage struct {
	payload  any
	topic    string
	qos      byte
	retained bool
}

func newFakeMQTTClient() *fakeMQTTClient {
	return &fakeMQTTClient{published: make(chan publishedMessage, 16)}
}

func (m *fakeMQTTClient) factory(opts *mqtt.ClientOptions) mqtt.Client {
	m.mu.Lock()
	m.opts = opts
	m.mu.Unlock()
	return m
}

func (m *fakeMQTTClient) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *fakeMQTTClient) IsConnectionOpen() bool {
	return m.IsConnected()
}

func (m *fakeMQTTClient) Connect() mqtt.Token {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.connectErr != nil {
		return &fakeToken{err: m.connectErr}
	}
	m.connected = true
	return &fakeToken{}
}

func (m *fakeMQTTClient) Disconnect(_ uint) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = false
	m.disconnects++
}

func (m *fakeMQTTClient) Publish(topic string, qos byte, retained bool, payload any) mqtt.Token {
	if m.publishErr != nil {
		return &fakeToken{err: m.publishErr}
	}
	m.published <- publishedMessage{topic: topic, qos: qos, retained: retained, payload: payload}
	return &fakeToken{}
}

func (*fakeMQTTClient) Subscribe(_ string, _ byte, _ mqtt.MessageHandler) mqtt.Token {
	return &fakeToken{}
}

func (*fakeMQTTClient) SubscribeMultiple(_ map[string]byte, _ mqtt.MessageHandler) mqtt.Token {
	return &fakeToken{}
}

func (*fakeMQTTClient) Unsubscribe(_ ...string) mqtt.Token {
	return &fakeToken{}
}

func (*fakeMQTTClient) AddRoute(_ string, _ mqtt.MessageHandler) {}

func (*fakeMQTTClient) OptionsReader() mqtt.ClientOptionsReader {
	return mqtt.ClientOptionsReader{}
}

type fakeToken struct {
	err error
}

func (*fakeToken) Wait() bool {
	return true
}

func (*fakeToken) WaitTimeout(_ time.Duration) bool {
	return true
}

func (*fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

func (t *fakeToken) Error() error {
	return t.err
}
