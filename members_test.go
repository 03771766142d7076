package anvil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mailer struct {
	Host string
	Port int
	From string

	log   Logger
	inits int
}

func newMailer(log Logger) *mailer {
	return &mailer{log: log, Host: "default"}
}

func newMailerWithHost(host string, port int) *mailer {
	return &mailer{Host: host, Port: port}
}

func (m *mailer) Configure(log Logger, from string) {
	m.log = log
	m.From = from
}

func (m *mailer) Init() error {
	m.inits++

	return nil
}

type tagged struct {
	L       Logger `di:""`
	Ignored Logger `inject:""`
}

func TestConstructorSelection_GreediestViable(t *testing.T) {
	c := New()

	require.NoError(t, Register[Logger, *consoleLogger](c))
	require.NoError(t, c.RegisterConstructor(newMailer))
	require.NoError(t, c.RegisterConstructor(func(l Logger, s Store) *mailer {
		return &mailer{log: l, Host: s.Get("greeting")}
	}))

	m := Must[*mailer](c)
	assert.Equal(t, "default", m.Host, "Store cannot be resolved yet")

	require.NoError(t, c.RegisterInstance(TypeOf[Store](), "", newMemoryStore(), nil))

	m = Must[*mailer](c)
	assert.Equal(t, "hello", m.Host)
}

func TestConstructorSelection_Ambiguous(t *testing.T) {
	c := New()

	require.NoError(t, Register[Logger, *consoleLogger](c))
	require.NoError(t, c.RegisterConstructor(func(l Logger) *mailer { return &mailer{Host: "a"} }))
	require.NoError(t, c.RegisterConstructor(func(l Logger) *mailer { return &mailer{Host: "b"} }))

	_, err := Resolve[*mailer](c)
	assert.ErrorIs(t, err, ErrAmbiguousConstructor)
}

func TestConstructorSelection_NoneViable(t *testing.T) {
	c := New()

	require.NoError(t, c.RegisterConstructor(func(s Store) *mailer { return &mailer{} }))

	_, err := Resolve[*mailer](c)
	assert.ErrorIs(t, err, ErrNoViableConstructor)
}

func TestConstructorSelection_ZeroValueStruct(t *testing.T) {
	c := New()

	m, err := Resolve[*mailer](c)
	require.NoError(t, err)
	assert.Empty(t, m.Host)

	v, err := Resolve[mailer](c)
	require.NoError(t, err)
	assert.Empty(t, v.Host)
}

func TestInjectionMembers(t *testing.T) {
	c := New()

	require.NoError(t, Register[Logger, *consoleLogger](c, AsSingleton()))
	require.NoError(t, RegisterSelf[*mailer](c, WithMembers(
		InjectionConstructor(newMailerWithHost, "smtp.local", 2525),
		InjectionProperty("From", "noreply@example.com"),
		InjectionMethod("Configure", TypeOf[Logger](), "ops@example.com"),
		InjectionMethod("Init"),
	)))

	m := Must[*mailer](c)
	assert.Equal(t, "smtp.local", m.Host)
	assert.Equal(t, 2525, m.Port)
	assert.Equal(t, "ops@example.com", m.From, "methods run after fields")
	assert.Same(t, Must[Logger](c), m.log)
	assert.Equal(t, 1, m.inits)
}

func TestInjectionMembers_ReplacedOnReregistration(t *testing.T) {
	c := New()

	require.NoError(t, RegisterSelf[*mailer](c, WithMembers(InjectionProperty("From", "first"))))
	require.NoError(t, RegisterSelf[*mailer](c, WithMembers(InjectionProperty("Host", "second"))))

	m := Must[*mailer](c)
	assert.Empty(t, m.From)
	assert.Equal(t, "second", m.Host)
}

func TestInjectionMembers_Invalid(t *testing.T) {
	c := New()

	tests := []struct {
		name   string
		member InjectionMember
		code   string
	}{
		{"wrong constructor result", InjectionConstructor(newMemoryStore), CodeIncompatibleTypes},
		{"wrong argument count", InjectionConstructor(newMailerWithHost, "host"), CodeInvalidConstructor},
		{"not a function", InjectionConstructor(42), CodeInvalidConstructor},
		{"missing field", InjectionProperty("Missing"), CodeInvalidRegistration},
		{"unexported field", InjectionProperty("log"), CodeInvalidRegistration},
		{"too many values", InjectionProperty("Host", "a", "b"), CodeInvalidRegistration},
		{"missing method", InjectionMethod("Missing"), CodeInvalidRegistration},
		{"wrong method arity", InjectionMethod("Configure", "only one"), CodeInvalidRegistration},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := RegisterSelf[*mailer](c, WithMembers(tt.member))

			var cfgErr *ConfigurationError
			require.ErrorAs(t, err, &cfgErr)
			assert.Equal(t, tt.code, cfgErr.Code)
		})
	}
}

func TestInjectionProperty_ResolvedValue(t *testing.T) {
	c := New()

	require.NoError(t, Register[Logger, *fileLogger](c, WithName("file")))
	require.NoError(t, RegisterSelf[*repository](c, WithMembers(
		InjectionProperty("Log", ResolvedOf[Logger]("file")),
	)))

	repo := Must[*repository](c)
	assert.IsType(t, &fileLogger{}, repo.Log)
}

func TestInjectionMarker_Custom(t *testing.T) {
	c := New(WithInjectionMarker(TagMarker{Key: "di"}))

	require.NoError(t, Register[Logger, *consoleLogger](c))

	v := Must[*tagged](c)
	assert.NotNil(t, v.L)
	assert.Nil(t, v.Ignored)
}

func TestOverrides_Parameter(t *testing.T) {
	c := New()

	require.NoError(t, c.RegisterConstructor(newMailerWithHost))

	m, err := Resolve[*mailer](c, ParameterOverride(0, "override.local"), ParameterOverride(1, 25))
	require.NoError(t, err)
	assert.Equal(t, "override.local", m.Host)
	assert.Equal(t, 25, m.Port)
}

func TestOverrides_ParameterSkipsMismatchedTypes(t *testing.T) {
	c := New()

	require.NoError(t, Register[Logger, *consoleLogger](c))
	require.NoError(t, c.RegisterConstructor(newUserService))

	// parameter 0 of newUserService is *repository; the string does not fit
	svc, err := Resolve[*userService](c, ParameterOverride(0, "not a repository"))
	require.NoError(t, err)
	assert.NotNil(t, svc.repo)
}

func TestOverrides_Property(t *testing.T) {
	c := New()
	log := &consoleLogger{}

	repo, err := Resolve[*repository](c, PropertyOverride("Log", log))
	require.NoError(t, err)
	assert.Same(t, log, repo.Log)
}

func TestOverrides_Dependency(t *testing.T) {
	c := New()
	log := &consoleLogger{}

	require.NoError(t, c.RegisterConstructor(newUserService))

	svc, err := Resolve[*userService](c, DependencyOverride(TypeOf[Logger](), log))
	require.NoError(t, err)
	assert.Same(t, log, svc.log)
	assert.Same(t, log, svc.repo.Log, "overrides apply at every depth")
}

func TestOverrides_OnType(t *testing.T) {
	c := New()
	special := &fileLogger{}

	require.NoError(t, Register[Logger, *consoleLogger](c))
	require.NoError(t, c.RegisterConstructor(newUserService))

	svc, err := Resolve[*userService](c, OnType(TypeOf[*repository](), PropertyOverride("Log", special)))
	require.NoError(t, err)
	assert.Same(t, special, svc.repo.Log)
	assert.IsType(t, &consoleLogger{}, svc.log)
}

func TestOverrides_LaterWins(t *testing.T) {
	c := New()
	first, second := &consoleLogger{}, &consoleLogger{}

	repo, err := Resolve[*repository](c, Overrides{
		PropertyOverride("Log", first),
		PropertyOverride("Log", second),
	})
	require.NoError(t, err)
	assert.Same(t, second, repo.Log)
}

func TestBuildUp(t *testing.T) {
	c := New()
	require.NoError(t, Register[Logger, *consoleLogger](c, AsSingleton()))

	existing := &repository{}

	got, err := BuildUpOf(c, existing, "")
	require.NoError(t, err)
	assert.Same(t, existing, got)
	assert.Same(t, Must[Logger](c), existing.Log)

	value, err := BuildUpOf(c, repository{}, "")
	require.NoError(t, err)
	assert.NotNil(t, value.Log)

	_, err = c.BuildUp(KeyOf[*repository](""), nil)
	assert.ErrorIs(t, err, ErrNilArgument)
}

func TestBuildUp_DependenciesRunFullPipeline(t *testing.T) {
	c := New()
	require.NoError(t, Register[Logger, *consoleLogger](c, AsSingleton()))

	existing := &repository{}

	_, err := c.BuildUp(KeyOf[*repository](""), existing)
	require.NoError(t, err)
	require.NotNil(t, existing.Log, "mapped dependencies are built")
	assert.Same(t, Must[Logger](c), existing.Log)

	handler := &checkoutHandler{}

	_, err = c.BuildUp(KeyOf[*checkoutHandler](""), handler)
	require.NoError(t, err)
	require.NotNil(t, handler.Orders)
	require.NotNil(t, handler.Customers)
	assert.NotNil(t, handler.Orders.UoW, "nested dependencies are built and injected")
	assert.NotNil(t, handler.Customers.UoW)
}

func TestBuildUp_InterfaceKeyUsesDynamicType(t *testing.T) {
	c := New()
	require.NoError(t, Register[Logger, *consoleLogger](c))

	thing := &awareThing{}

	_, err := c.BuildUp(KeyOf[BuilderAware](""), thing)
	require.NoError(t, err)
	assert.NotNil(t, thing.Log)
	assert.Equal(t, KeyOf[*awareThing](""), thing.builtKey)
}

func TestBuilderAware(t *testing.T) {
	c := New()
	require.NoError(t, Register[Logger, *consoleLogger](c))

	thing := Must[*awareThing](c)
	assert.Equal(t, KeyOf[*awareThing](""), thing.builtKey)

	require.NoError(t, c.TearDown(thing))
	assert.True(t, thing.torn)

	require.NoError(t, c.TearDown(nil))

	_, err := c.BuildUp(KeyOf[*awareThing](""), &awareThing{failOn: true})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "refused")
}

func TestConstructorSelection_OverrideDoesNotStick(t *testing.T) {
	c := New()

	require.NoError(t, Register[Logger, *consoleLogger](c))
	require.NoError(t, c.RegisterConstructor(newMailer))
	require.NoError(t, c.RegisterConstructor(func(l Logger, s Store) *mailer {
		return &mailer{log: l, Host: s.Get("greeting")}
	}))

	withStore := DependencyOverride(TypeOf[Store](), newMemoryStore())

	m, err := Resolve[*mailer](c, withStore)
	require.NoError(t, err)
	assert.Equal(t, "hello", m.Host, "the override makes the greedier constructor viable")

	m, err = Resolve[*mailer](c)
	require.NoError(t, err)
	assert.Equal(t, "default", m.Host, "builds without the override select on registrations alone")

	m, err = Resolve[*mailer](c, withStore)
	require.NoError(t, err)
	assert.Equal(t, "hello", m.Host)

	m, err = Resolve[*mailer](c)
	require.NoError(t, err)
	assert.Equal(t, "default", m.Host)
}

func TestConstructorSelection_ParameterOverrideDoesNotStick(t *testing.T) {
	c := New()

	require.NoError(t, c.RegisterConstructor(func() *mailer { return &mailer{Host: "none"} }))
	require.NoError(t, c.RegisterConstructor(func(l Logger) *mailer { return &mailer{log: l, Host: "logged"} }))

	log := &consoleLogger{}

	m, err := Resolve[*mailer](c, ParameterOverride(0, log))
	require.NoError(t, err)
	assert.Equal(t, "logged", m.Host)
	assert.Same(t, log, m.log)

	m, err = Resolve[*mailer](c)
	require.NoError(t, err)
	assert.Equal(t, "none", m.Host)
}
