package state

// ReadOnly 包装存储为只读：debug 模式下分析照常进行但不落盘
func ReadOnly(repo Repository) Repository {
	return &readOnlyRepo{inner: repo}
}

type readOnlyRepo struct {
	inner Repository
}

func (r *readOnlyRepo) Load(user string) (*UserProcessingState, error) {
	return r.inner.Load(user)
}

func (r *readOnlyRepo) Save(string, *UserProcessingState) error { return nil }

func (r *readOnlyRepo) Delete(string) error { return nil }

func (r *readOnlyRepo) Close() error { return r.inner.Close() }
