package secretlog

type sugared struct{}

func (sugared) Debugln(args ...interface{})                     {}
func (sugared) Infof(format string, args ...interface{})        {}
func (sugared) Errorw(msg string, keysAndValues ...interface{}) {}

type checker struct{}

func (checker) Errorf(format string, args ...interface{}) {}

type request struct {
	Username string
	Password string
}

func field(key string, value string) string { return key + value }

var (
	log   sugared
	check checker
)

func login(username, password string, req request, signingSecret []byte) {
	log.Debugln("login attempt for", username)
	log.Debugln("wrong password for", username)
	check.Errorf("unexpected %s", password)
	log.Debugln("login", password)                       // want "password must not be logged"
	log.Infof("user %s: %s", req.Username, req.Password) // want "Password must not be logged"
	log.Errorw("signing", "key", signingSecret)          // want "signingSecret must not be logged"
	log.Errorw("hash", field("password", password))      // want "password must not be logged"
}
