package sandbox

// The SDK is a single stdlib-only source file staged beside the code
// under execution, speaking HTTP over the bridge's Unix socket. It gives
// sandboxed code two calls: invoke_tool(name, input) to run an engine
// tool, and result(value) to submit the run's explicit return value.
// Languages without an SDK (go, bash) can still execute but cannot reach
// the bridge.

// sdkFilename returns the staged SDK file's name for a language, or ""
// when no SDK ships for it.
func sdkFilename(language string) string {
	switch language {
	case "python":
		return "animus.py"
	case "nodejs":
		return "animus.js"
	default:
		return ""
	}
}

func sdkSource(language string) string {
	switch language {
	case "python":
		return pythonSDK
	case "nodejs":
		return nodeSDK
	default:
		return ""
	}
}

const pythonSDK = `"""Animus sandbox SDK: tool invocation and result submission."""
import http.client
import json
import os
import socket


class _UnixConnection(http.client.HTTPConnection):
    def __init__(self, path):
        super().__init__("localhost")
        self._path = path

    def connect(self):
        self.sock = socket.socket(socket.AF_UNIX, socket.SOCK_STREAM)
        self.sock.connect(self._path)


def _post(route, payload):
    conn = _UnixConnection(os.environ["ANIMUS_RPC_SOCKET"])
    try:
        conn.request("POST", route, body=json.dumps(payload),
                     headers={"Content-Type": "application/json"})
        resp = conn.getresponse()
        body = resp.read()
        if resp.status >= 400:
            raise RuntimeError("animus rpc %s: %s" % (route, body.decode()))
        return json.loads(body) if body else None
    finally:
        conn.close()


def invoke_tool(name, input=None):
    """Run an engine tool. Raises ToolError if the tool returned an error."""
    out = _post("/invoke", {"tool": name, "input": input or {}})
    if out.get("is_error"):
        raise ToolError(out.get("error_type", ""), out.get("content", ""))
    return out.get("content", "")


def result(value):
    """Submit this run's return value. The last call wins."""
    _post("/result", {"value": value})


class ToolError(Exception):
    def __init__(self, error_type, content):
        super().__init__(content)
        self.error_type = error_type
        self.content = content
`

const nodeSDK = `// Animus sandbox SDK: tool invocation and result submission.
'use strict';
const http = require('http');

function post(route, payload) {
  return new Promise((resolve, reject) => {
    const req = http.request({
      socketPath: process.env.ANIMUS_RPC_SOCKET,
      path: route,
      method: 'POST',
      headers: { 'Content-Type': 'application/json' },
    }, (res) => {
      let body = '';
      res.on('data', (c) => { body += c; });
      res.on('end', () => {
        if (res.statusCode >= 400) {
          reject(new Error('animus rpc ' + route + ': ' + body));
          return;
        }
        resolve(body ? JSON.parse(body) : null);
      });
    });
    req.on('error', reject);
    req.end(JSON.stringify(payload));
  });
}

// Run an engine tool. Rejects if the tool returned an error.
async function invokeTool(name, input) {
  const out = await post('/invoke', { tool: name, input: input || {} });
  if (out.is_error) {
    const err = new Error(out.content || '');
    err.errorType = out.error_type || '';
    throw err;
  }
  return out.content || '';
}

// Submit this run's return value. The last call wins.
function result(value) {
  return post('/result', { value });
}

module.exports = { invokeTool, result };
`
