package mqtt

import (
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
)

const (
	discoveryPrefix = "homeassistant"
	nodeID          = "pension720"

	connectTimeout = 10 * time.Second
	publishTimeout = 5 * time.Second
)

// Config carries broker settings.
type Config struct {
	URL      string
	Username string
	Password string
	ClientID string
}

// BuyHandler receives button presses from Home Assistant: the account the
// button belongs to and the ticket count it buys.
type BuyHandler func(username string, count int)

// Publisher announces per-account sensors and buy buttons over Home
// Assistant MQTT discovery and pushes state updates to them.
type Publisher struct {
	client    paho.Client
	usernames []string
	onBuy     BuyHandler
}

// New connects to the broker and subscribes to the buy-button command
// topics for every account.
func New(cfg Config, usernames []string, onBuy BuyHandler) (*Publisher, error) {
	if cfg.ClientID == "" {
		cfg.ClientID = fmt.Sprintf("pension720-%d", time.Now().Unix())
	}

	opts := paho.NewClientOptions().
		AddBroker(cfg.URL).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectTimeout(connectTimeout)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	p := &Publisher{usernames: usernames, onBuy: onBuy}

	opts.SetOnConnectHandler(func(c paho.Client) {
		log.Printf("[MQTT] connected to %s", cfg.URL)
		p.subscribeButtons(c)
		p.publishDiscovery(c)
	})
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		log.Printf("[MQTT] connection lost: %v", err)
	})

	client := paho.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return nil, fmt.Errorf("mqtt connect to %s timed out", cfg.URL)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect to %s: %w", cfg.URL, err)
	}

	p.client = client
	return p, nil
}

// Close disconnects from the broker.
func (p *Publisher) Close() {
	if p.client != nil && p.client.IsConnected() {
		p.client.Disconnect(250)
	}
}

func objectID(username, suffix string) string {
	clean := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		default:
			return '_'
		}
	}, username)
	return fmt.Sprintf("%s_%s_%s", nodeID, clean, suffix)
}

func stateTopic(username, suffix string) string {
	return fmt.Sprintf("%s/%s/state/%s", nodeID, username, suffix)
}

func commandTopic(username string, count int) string {
	return fmt.Sprintf("%s/%s/buy/%d", nodeID, username, count)
}

// deviceInfo groups all entities of one account under one Home Assistant
// device.
func deviceInfo(username string) map[string]any {
	return map[string]any{
		"identifiers":  []string{objectID(username, "device")},
		"name":         fmt.Sprintf("연금복권 720+ (%s)", username),
		"manufacturer": "dhlottery",
		"model":        "pension720",
	}
}

func (p *Publisher) publishDiscovery(c paho.Client) {
	for _, username := range p.usernames {
		configs := []struct {
			component string
			object    string
			payload   map[string]any
		}{
			{
				component: "sensor",
				object:    objectID(username, "balance"),
				payload: map[string]any{
					"name":                fmt.Sprintf("%s 예치금", username),
					"unique_id":           objectID(username, "balance"),
					"state_topic":         stateTopic(username, "balance"),
					"unit_of_measurement": "원",
					"icon":                "mdi:wallet",
					"device":              deviceInfo(username),
				},
			},
			{
				component: "sensor",
				object:    objectID(username, "login_error"),
				payload: map[string]any{
					"name":        fmt.Sprintf("%s 로그인 오류", username),
					"unique_id":   objectID(username, "login_error"),
					"state_topic": stateTopic(username, "login_error"),
					"icon":        "mdi:alert-circle-outline",
					"device":      deviceInfo(username),
				},
			},
			{
				component: "button",
				object:    objectID(username, "buy_1"),
				payload: map[string]any{
					"name":          fmt.Sprintf("%s 1매 구매", username),
					"unique_id":     objectID(username, "buy_1"),
					"command_topic": commandTopic(username, 1),
					"payload_press": "PRESS",
					"icon":          "mdi:ticket-confirmation",
					"device":        deviceInfo(username),
				},
			},
			{
				component: "button",
				object:    objectID(username, "buy_5"),
				payload: map[string]any{
					"name":          fmt.Sprintf("%s 5매 구매", username),
					"unique_id":     objectID(username, "buy_5"),
					"command_topic": commandTopic(username, 5),
					"payload_press": "PRESS",
					"icon":          "mdi:ticket-confirmation",
					"device":        deviceInfo(username),
				},
			},
		}

		for _, cfg := range configs {
			topic := fmt.Sprintf("%s/%s/%s/%s/config",
				discoveryPrefix, cfg.component, nodeID, cfg.object)
			data, err := json.Marshal(cfg.payload)
			if err != nil {
				continue
			}
			// Retained so Home Assistant rediscovers entities on restart.
			if token := c.Publish(topic, 0, true, data); token.WaitTimeout(publishTimeout) {
				if err := token.Error(); err != nil {
					log.Printf("[MQTT] discovery publish %s failed: %v", topic, err)
				}
			}
		}
	}
	log.Printf("[MQTT] published discovery for %d accounts", len(p.usernames))
}

func (p *Publisher) subscribeButtons(c paho.Client) {
	for _, username := range p.usernames {
		for _, count := range []int{1, 5} {
			user, n := username, count
			topic := commandTopic(user, n)
			token := c.Subscribe(topic, 0, func(_ paho.Client, msg paho.Message) {
				log.Printf("[MQTT][%s] buy button pressed: count=%d", user, n)
				if p.onBuy != nil {
					p.onBuy(user, n)
				}
			})
			if token.WaitTimeout(publishTimeout) && token.Error() != nil {
				log.Printf("[MQTT] subscribe %s failed: %v", topic, token.Error())
			}
		}
	}
}

// PublishBalance pushes a balance state update for one account.
func (p *Publisher) PublishBalance(username string, deposit int) {
	p.publishState(stateTopic(username, "balance"), fmt.Sprintf("%d", deposit))
}

// PublishLoginError pushes the login-error sensor state; empty means
// healthy and publishes "OK".
func (p *Publisher) PublishLoginError(username, message string) {
	if message == "" {
		message = "OK"
	}
	p.publishState(stateTopic(username, "login_error"), message)
}

func (p *Publisher) publishState(topic, payload string) {
	if p.client == nil || !p.client.IsConnected() {
		return
	}
	token := p.client.Publish(topic, 0, true, payload)
	if token.WaitTimeout(publishTimeout) && token.Error() != nil {
		log.Printf("[MQTT] state publish %s failed: %v", topic, token.Error())
	}
}
