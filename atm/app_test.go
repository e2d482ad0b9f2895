package atm_test

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/jonanatree/cyberbank-atm/atm"
	"github.com/jonanatree/cyberbank-atm/atm/models"
	"github.com/jonanatree/cyberbank-atm/internal/security"
)

func startApp(t *testing.T, config *atm.Config) *atm.App {
	t.Helper()
	app := atm.NewApp(discardLogger(), config)
	app.PINVerifier = security.NewBcryptVerifier(bcrypt.MinCost)
	require.NoError(t, app.Start())
	t.Cleanup(app.Shutdown)
	return app
}

func memConfig() *atm.Config {
	c := atm.DefaultConfig()
	c.HTTPAddr = "127.0.0.1:0"
	c.ISO8583Addr = "127.0.0.1:0"
	c.RepoBackend = "mem"
	c.AllowMemBackend = true
	c.SeedData = true
	return c
}

func TestApp(t *testing.T) {
	app := startApp(t, memConfig())
	base := "http://" + app.Addr

	for _, path := range []string{"/-/live", "/-/ready"} {
		resp, err := http.Get(base + path)
		require.NoError(t, err)
		resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode, path)
	}

	body, err := json.Marshal(request(models.RequestCheckBalance, "ACC002", nil))
	require.NoError(t, err)
	resp, err := http.Post(base+"/atm/transaction", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var res models.TransactionResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&res))
	require.True(t, res.Success)
	require.Equal(t, int64(5000), *res.Balance)

	resp, err = http.Get(base + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	metrics, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Contains(t, string(metrics), `atm_transactions_total{code="OK",type="CHECK_BALANCE"} 1`)

	require.NotEmpty(t, app.ISO8583ServerAddr)
}

func TestApp_RefusesMemBackendByDefault(t *testing.T) {
	c := memConfig()
	c.AllowMemBackend = false

	app := atm.NewApp(discardLogger(), c)
	err := app.Start()
	require.ErrorContains(t, err, "mem repository is disabled")
	app.Shutdown()
}

func TestApp_RedisSessions(t *testing.T) {
	_, mr := newRedisStore(t, 0)

	c := memConfig()
	c.SessionBackend = "redis"
	c.RedisAddr = mr.Addr()
	app := startApp(t, c)

	body, err := json.Marshal(request(models.RequestDeposit, "ACC001", models.Int64(100)))
	require.NoError(t, err)
	resp, err := http.Post("http://"+app.Addr+"/atm/transaction", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	require.NotEmpty(t, mr.Keys())
}
