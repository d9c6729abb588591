package cfg

type MockLoader struct{}

func NewMockLoader() (*MockLoader, error) {
	return &MockLoader{}, nil
}

func (yl *MockLoader) Load() (*Config, error) {
	return &Config{
		// App
		App: App{
			Name:    "reposhub",
			Version: "0.0.1",
		},

		// Mysql
		Mysql: Mysql{
			Host:                  "127.0.0.1",
			Password:              "root",
			Username:              "root",
			Port:                  "3306",
			Database:              "reposhub",
			MaxIdleConnection:     10,
			MaxOpenConnection:     100,
			MaxLifeTimeConnection: 3600,
		},

		// Kafka
		Kafka: Kafka{
			Brokers:          []string{"127.0.0.1:9092"},
			TopicFetchPrefix: "reposhub.fetch.depth.",
			TopicCount:       "reposhub.count",
			TopicDeadLetter:  "reposhub.deadletter",
			ConsumerGroup:    "reposhub-workers",
		},

		// GithubApi
		GithubApi: GithubApi{
			ApiUrl:            "https://api.github.com",
			RequestsPerSecond: 5,
		},

		// Fetcher
		Fetcher: Fetcher{
			MaxDepth:                   2,
			MinFetchDeltaAccountMin:    30,
			MinFetchDeltaRepositoryMin: 30,
			TokenPollMs:                500,
		},
	}, nil
}
