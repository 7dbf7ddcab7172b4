package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestValidatePolicy(t *testing.T) {
	t.Run("defaults are valid", func(t *testing.T) {
		assert.NoError(t, ValidatePolicy(DefaultPolicy()))
	})

	t.Run("rejects zero cap", func(t *testing.T) {
		p := DefaultPolicy()
		p.DailySessionCap = 0
		assert.Error(t, ValidatePolicy(p))
	})

	t.Run("rejects unknown branch zone", func(t *testing.T) {
		p := DefaultPolicy()
		p.BranchTimezones = map[string]string{"42": "Mars/Olympus"}
		assert.Error(t, ValidatePolicy(p))
	})

	t.Run("rejects negative lead", func(t *testing.T) {
		p := DefaultPolicy()
		p.ReminderLead = -time.Minute
		assert.Error(t, ValidatePolicy(p))
	})
}

func TestPolicyHolderFallsBackToDefaults(t *testing.T) {
	var holder *PolicyConfigHolder
	assert.Equal(t, DefaultPolicy().DailySessionCap, holder.Get().DailySessionCap)

	custom := DefaultPolicy()
	custom.DailySessionCap = 3
	assert.Equal(t, 3, NewStaticPolicyHolder(custom).Get().DailySessionCap)
}
