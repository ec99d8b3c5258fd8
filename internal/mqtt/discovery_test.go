package mqtt

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTopicLayout(t *testing.T) {
	assert.Equal(t, "pension720/alice/state/balance", stateTopic("alice", "balance"))
	assert.Equal(t, "pension720/alice/state/login_error", stateTopic("alice", "login_error"))
	assert.Equal(t, "pension720/alice/buy/1", commandTopic("alice", 1))
	assert.Equal(t, "pension720/alice/buy/5", commandTopic("alice", 5))
}

func TestObjectIDSanitization(t *testing.T) {
	assert.Equal(t, "pension720_alice_balance", objectID("alice", "balance"))
	// Usernames with characters outside [a-zA-Z0-9] are flattened so the
	// discovery object id stays valid.
	assert.Equal(t, "pension720_user_name_buy_1", objectID("user.name", "buy_1"))
}

func TestDeviceInfoGroupsEntities(t *testing.T) {
	info := deviceInfo("alice")
	assert.Equal(t, []string{"pension720_alice_device"}, info["identifiers"])
	assert.Equal(t, "pension720", info["model"])
}
