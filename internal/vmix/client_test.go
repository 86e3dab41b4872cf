package vmix

import (
	"context"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tablecap/tablecap-go/internal/conf"
	"github.com/tablecap/tablecap-go/internal/errors"
)

func testDeviceSettings() conf.DeviceSettings {
	return conf.DeviceSettings{
		Host:           "127.0.0.1",
		Port:           8088,
		TimeoutSeconds: 2.0,
		FrameRate:      30.0,
	}
}

func newMockedClient(t *testing.T) *Client {
	t.Helper()
	c := NewClient(testDeviceSettings(), nil)
	httpmock.ActivateNonDefault(c.http)
	t.Cleanup(httpmock.DeactivateAndReset)
	return c
}

const stateXML = `<vmix>
  <version>27.0.0.80</version>
  <recording duration="95">True</recording>
  <streaming>False</streaming>
  <inputs>
    <input number="1" title="Table Cam" state="Running"/>
    <input number="2" title="Replay" state="Running"/>
  </inputs>
</vmix>`

func TestSendFunctionBuildsQuery(t *testing.T) {
	c := newMockedClient(t)

	var gotQuery url.Values
	httpmock.RegisterResponder(http.MethodGet, `=~^http://127\.0\.0\.1:8088/api/`,
		func(req *http.Request) (*http.Response, error) {
			gotQuery = req.URL.Query()
			return httpmock.NewStringResponse(http.StatusOK, "Function completed"), nil
		})

	params := url.Values{}
	params.Set("Channel", "A")
	params.Set("Value", "10")
	require.NoError(t, c.SendFunction(context.Background(), FuncReplayMarkInOutLive, params))

	assert.Equal(t, FuncReplayMarkInOutLive, gotQuery.Get("Function"))
	assert.Equal(t, "A", gotQuery.Get("Channel"))
	assert.Equal(t, "10", gotQuery.Get("Value"))
}

func TestSendFunctionNon2xxIsCommandError(t *testing.T) {
	c := newMockedClient(t)

	httpmock.RegisterResponder(http.MethodGet, `=~^http://127\.0\.0\.1:8088/api/`,
		httpmock.NewStringResponder(http.StatusInternalServerError, "boom"))

	err := c.SendFunction(context.Background(), FuncReplayMarkIn, nil)
	require.Error(t, err)

	var enhanced *errors.EnhancedError
	require.True(t, errors.As(err, &enhanced))
	assert.Equal(t, errors.CategoryDeviceCommand, enhanced.Category)
	assert.Equal(t, FuncReplayMarkIn, enhanced.Context["function"])
}

func TestSendFunctionDeadlineIsTimeoutError(t *testing.T) {
	c := newMockedClient(t)

	httpmock.RegisterResponder(http.MethodGet, `=~^http://127\.0\.0\.1:8088/api/`,
		httpmock.NewErrorResponder(context.DeadlineExceeded))

	err := c.SendFunction(context.Background(), FuncReplayMarkOut, nil)
	require.Error(t, err)

	var enhanced *errors.EnhancedError
	require.True(t, errors.As(err, &enhanced))
	assert.Equal(t, errors.CategoryTimeout, enhanced.Category)
}

func TestStateParsesDocument(t *testing.T) {
	c := newMockedClient(t)

	httpmock.RegisterResponder(http.MethodGet, `=~^http://127\.0\.0\.1:8088/api/`,
		httpmock.NewStringResponder(http.StatusOK, stateXML))

	state, err := c.State(context.Background())
	require.NoError(t, err)

	assert.True(t, state.Recording)
	assert.Equal(t, 95*time.Second, state.RecordingDuration)
	assert.False(t, state.Streaming)
	require.Len(t, state.Inputs, 2)
	assert.Equal(t, "Table Cam", state.Inputs[0].Title)
}

func TestStateToleratesMissingElements(t *testing.T) {
	c := newMockedClient(t)

	httpmock.RegisterResponder(http.MethodGet, `=~^http://127\.0\.0\.1:8088/api/`,
		httpmock.NewStringResponder(http.StatusOK, `<vmix><version>27</version></vmix>`))

	state, err := c.State(context.Background())
	require.NoError(t, err)

	assert.False(t, state.Recording, "a missing recording element reads as false")
	assert.False(t, state.Streaming)
	assert.Zero(t, state.RecordingDuration)
	assert.Empty(t, state.Inputs)
}

func TestStateMalformedDocument(t *testing.T) {
	c := newMockedClient(t)

	httpmock.RegisterResponder(http.MethodGet, `=~^http://127\.0\.0\.1:8088/api/`,
		httpmock.NewStringResponder(http.StatusOK, "not xml at all <"))

	_, err := c.State(context.Background())
	require.Error(t, err)

	var enhanced *errors.EnhancedError
	require.True(t, errors.As(err, &enhanced))
	assert.Equal(t, errors.CategoryDeviceState, enhanced.Category)
}

func TestToggleRecording(t *testing.T) {
	c := newMockedClient(t)

	var functions []string
	httpmock.RegisterResponder(http.MethodGet, `=~^http://127\.0\.0\.1:8088/api/`,
		func(req *http.Request) (*http.Response, error) {
			if fn := req.URL.Query().Get("Function"); fn != "" {
				functions = append(functions, fn)
				return httpmock.NewStringResponse(http.StatusOK, "Function completed"), nil
			}
			// State query: report the device as recording.
			return httpmock.NewStringResponse(http.StatusOK, stateXML), nil
		})

	require.NoError(t, c.ToggleRecording(context.Background()))
	assert.Equal(t, []string{FuncStopRecording}, functions)
}

func TestIsReachable(t *testing.T) {
	c := newMockedClient(t)

	httpmock.RegisterResponder(http.MethodGet, `=~^http://127\.0\.0\.1:8088/api/`,
		httpmock.NewStringResponder(http.StatusOK, stateXML))
	assert.True(t, c.IsReachable(context.Background()))

	httpmock.Reset()
	httpmock.RegisterResponder(http.MethodGet, `=~^http://127\.0\.0\.1:8088/api/`,
		httpmock.NewErrorResponder(assert.AnError))
	assert.False(t, c.IsReachable(context.Background()))
}
